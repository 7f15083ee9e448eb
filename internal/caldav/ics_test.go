package caldav

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEncodeDecodeAllDayEventRoundTrip(t *testing.T) {
	end := day(2026, time.March, 10)
	event := Event{
		UID:         "item-i1@calsync",
		Summary:     "[1] Fix login",
		Description: "Description: broken\n\nURL: https://tracker.example.com/i1",
		Start:       day(2026, time.March, 8),
		End:         &end,
		AllDay:      true,
		Status:      StatusConfirmed,
		Categories:  []string{"bug", "Priority: high"},
		Attendees:   []string{"sam@example.com"},
		URL:         "https://tracker.example.com/i1",
	}

	data, err := encodeEvent(event)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeEvents(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 event, got %d", len(decoded))
	}
	got := decoded[0]
	got.URL = strings.TrimSpace(got.URL)

	if got.UID != event.UID {
		t.Fatalf("UID = %q, want %q", got.UID, event.UID)
	}
	if got.Summary != event.Summary {
		t.Fatalf("Summary = %q, want %q", got.Summary, event.Summary)
	}
	if got.Description != event.Description {
		t.Fatalf("Description = %q, want %q", got.Description, event.Description)
	}
	if !got.AllDay {
		t.Fatalf("expected all-day flag to survive round trip")
	}
	if !got.Start.Equal(event.Start) {
		t.Fatalf("Start = %s, want %s", got.Start, event.Start)
	}
	if got.End == nil || !got.End.Equal(*event.End) {
		t.Fatalf("End = %v, want %s", got.End, *event.End)
	}
	if got.Status != StatusConfirmed {
		t.Fatalf("Status = %q", got.Status)
	}
	if !reflect.DeepEqual(got.Categories, event.Categories) {
		t.Fatalf("Categories = %v, want %v", got.Categories, event.Categories)
	}
	if !reflect.DeepEqual(got.Attendees, event.Attendees) {
		t.Fatalf("Attendees = %v, want %v", got.Attendees, event.Attendees)
	}
}

func TestEncodeSingleDayEventHasExclusiveEnd(t *testing.T) {
	event := Event{
		UID:     "item-i2@calsync",
		Summary: "[2] One day",
		Start:   day(2026, time.March, 10),
		AllDay:  true,
		Status:  StatusConfirmed,
	}
	data, err := encodeEvent(event)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "DTSTART;VALUE=DATE:20260310") {
		t.Fatalf("expected date-valued DTSTART, got:\n%s", text)
	}
	if !strings.Contains(text, "DTEND;VALUE=DATE:20260311") {
		t.Fatalf("expected exclusive DTEND one day later, got:\n%s", text)
	}

	decoded, err := decodeEvents(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded[0].End != nil {
		t.Fatalf("expected single-day event to decode with nil End, got %v", decoded[0].End)
	}
	if !decoded[0].Start.Equal(event.Start) {
		t.Fatalf("Start = %s, want %s", decoded[0].Start, event.Start)
	}
}

func TestEncodeEventIsDeterministic(t *testing.T) {
	event := Event{
		UID:     "item-i3@calsync",
		Summary: "[3] Stable",
		Start:   day(2026, time.March, 10),
		AllDay:  true,
		Status:  StatusCancelled,
	}
	first, err := encodeEvent(event)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	second, err := encodeEvent(event)
	if err != nil {
		t.Fatalf("second encode failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected byte-identical encodings")
	}
}

func TestDecodeEventsSkipsNonEventComponents(t *testing.T) {
	doc := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//test//EN",
		"BEGIN:VTODO",
		"UID:todo-1",
		"SUMMARY:Not an event",
		"END:VTODO",
		"BEGIN:VEVENT",
		"UID:item-i4@calsync",
		"SUMMARY:Real event",
		"DTSTAMP:19700101T000000Z",
		"DTSTART;VALUE=DATE:20260310",
		"DTEND;VALUE=DATE:20260311",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
	events, err := decodeEvents(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].UID != "item-i4@calsync" {
		t.Fatalf("unexpected UID %q", events[0].UID)
	}
	if !events[0].AllDay {
		t.Fatalf("expected all-day decode")
	}
}
