package caldav

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const prodID = "-//agentworkforce//calsync//EN"

const dateLayout = "20060102"

// encodeEvent renders a single event as a standalone VCALENDAR document,
// which is the unit CalDAV servers store per resource.
func encodeEvent(event Event) ([]byte, error) {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, event.UID)
	comp.Props.SetText(ical.PropSummary, event.Summary)
	if event.Description != "" {
		comp.Props.SetText(ical.PropDescription, event.Description)
	}
	comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Unix(0, 0).UTC())

	if event.AllDay {
		// DTEND is exclusive per RFC 5545; the stored span covers the
		// inclusive End date (or just the Start date).
		last := event.Start
		if event.End != nil {
			last = *event.End
		}
		setDateProp(comp, ical.PropDateTimeStart, event.Start)
		setDateProp(comp, ical.PropDateTimeEnd, last.AddDate(0, 0, 1))
	} else {
		comp.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
		if event.End != nil {
			comp.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
		}
	}

	if event.Status != "" {
		comp.Props.SetText(ical.PropStatus, string(event.Status))
	}
	if len(event.Categories) > 0 {
		prop := ical.NewProp(ical.PropCategories)
		prop.SetTextList(event.Categories)
		comp.Props.Set(prop)
	}
	for _, attendee := range event.Attendees {
		prop := ical.NewProp(ical.PropAttendee)
		prop.Value = mailto(attendee)
		comp.Props.Add(prop)
	}
	if event.URL != "" {
		comp.Props.SetText(ical.PropURL, event.URL)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, comp)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.UID, err)
	}
	return buf.Bytes(), nil
}

func setDateProp(comp *ical.Component, name string, day time.Time) {
	prop := ical.NewProp(name)
	prop.SetDate(day)
	comp.Props.Set(prop)
}

func mailto(address string) string {
	if strings.HasPrefix(address, "mailto:") {
		return address
	}
	return "mailto:" + address
}

// decodeEvents parses a VCALENDAR stream and returns every VEVENT in it.
// Non-event components are skipped.
func decodeEvents(r io.Reader) ([]Event, error) {
	decoder := ical.NewDecoder(r)
	var events []Event
	for {
		cal, err := decoder.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode calendar: %w", err)
		}
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			events = append(events, decodeEvent(comp))
		}
	}
	return events, nil
}

func decodeEvent(comp *ical.Component) Event {
	event := Event{}
	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		event.UID = prop.Value
	}
	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		event.Summary = prop.Value
	}
	if prop := comp.Props.Get(ical.PropDescription); prop != nil {
		if text, err := prop.Text(); err == nil {
			event.Description = text
		} else {
			event.Description = prop.Value
		}
	}
	if prop := comp.Props.Get(ical.PropStatus); prop != nil {
		event.Status = Status(prop.Value)
	}
	if prop := comp.Props.Get(ical.PropCategories); prop != nil {
		if list, err := prop.TextList(); err == nil {
			event.Categories = list
		}
	}
	for _, prop := range comp.Props.Values(ical.PropAttendee) {
		event.Attendees = append(event.Attendees, strings.TrimPrefix(prop.Value, "mailto:"))
	}
	if prop := comp.Props.Get(ical.PropURL); prop != nil {
		event.URL = prop.Value
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	endProp := comp.Props.Get(ical.PropDateTimeEnd)
	allDay := startProp != nil && startProp.ValueType() == ical.ValueDate

	if startProp != nil {
		if ts, err := parseDateProp(startProp); err == nil {
			event.Start = ts
		}
	}
	event.AllDay = allDay
	if endProp != nil {
		if ts, err := parseDateProp(endProp); err == nil {
			if allDay {
				// Undo the exclusive DTEND shift applied on encode.
				inclusive := ts.AddDate(0, 0, -1)
				if !inclusive.Equal(event.Start) {
					event.End = &inclusive
				}
			} else {
				event.End = &ts
			}
		}
	}
	return event
}

func parseDateProp(prop *ical.Prop) (time.Time, error) {
	if ts, err := prop.DateTime(time.UTC); err == nil {
		return ts, nil
	}
	for _, layout := range []string{dateLayout, "20060102T150405Z", "20060102T150405", time.RFC3339} {
		if ts, err := time.Parse(layout, prop.Value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date value %q", prop.Value)
}
