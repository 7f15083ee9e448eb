package syncer

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentworkforce/calsync/internal/caldav"
	"github.com/agentworkforce/calsync/internal/tracker"
)

// eventIDSuffix namespaces the deterministic UIDs this service owns, so a
// reconciliation pass can tell its own events from anything else living in
// the calendar.
const eventIDSuffix = "@calsync"

// DeterministicEventID derives the calendar UID for a tracked item. It is a
// pure function of the item identifier: same item, same UID, always. The UID
// is the join key between the two domains.
func DeterministicEventID(itemID string) string {
	return "item-" + itemID + eventIDSuffix
}

// MapItem converts a tracked item into its calendar representation. The
// second return is false when the item maps to no event, which happens
// exactly when it has no due date: no deadline, no calendar entry.
//
// The transform is pure and deterministic; identical input yields identical
// output.
func MapItem(item tracker.Item) (caldav.Event, bool) {
	if item.DueDate == nil {
		return caldav.Event{}, false
	}

	due := dateOnly(*item.DueDate)
	event := caldav.Event{
		UID:     DeterministicEventID(item.ID),
		Summary: fmt.Sprintf("[%d] %s", item.SequenceID, item.Name),
		AllDay:  true,
		Start:   due,
		URL:     item.URL,
	}
	if item.StartDate != nil {
		if start := dateOnly(*item.StartDate); start.Before(due) {
			end := due
			event.Start = start
			event.End = &end
		}
	}

	if item.CompletedAt != nil {
		event.Status = caldav.StatusCancelled
	} else {
		event.Status = caldav.StatusConfirmed
	}

	if item.CompletedAt != nil {
		event.Categories = append(event.Categories, "Completed")
	}
	for _, label := range item.Labels {
		event.Categories = append(event.Categories, label.Name)
	}
	if item.Priority != "" {
		event.Categories = append(event.Categories, "Priority: "+item.Priority)
	}

	for _, assignee := range item.Assignees {
		if assignee.Email != "" {
			event.Attendees = append(event.Attendees, assignee.Email)
		}
	}

	event.Description = describeItem(item)
	return event, true
}

// describeItem builds the event body from the item's present sections,
// joined as blank-line separated blocks. Absent sections are omitted
// entirely rather than rendered empty.
func describeItem(item tracker.Item) string {
	var blocks []string
	if item.Description != "" {
		blocks = append(blocks, "Description: "+item.Description)
	}
	if len(item.Assignees) > 0 {
		names := make([]string, 0, len(item.Assignees))
		for _, assignee := range item.Assignees {
			names = append(names, assignee.DisplayName)
		}
		blocks = append(blocks, "Assignees: "+strings.Join(names, ", "))
	}
	if len(item.Labels) > 0 {
		names := make([]string, 0, len(item.Labels))
		for _, label := range item.Labels {
			names = append(names, label.Name)
		}
		blocks = append(blocks, "Labels: "+strings.Join(names, ", "))
	}
	if item.URL != "" {
		blocks = append(blocks, "URL: "+item.URL)
	}
	return strings.Join(blocks, "\n\n")
}

// dateOnly drops the time-of-day component; deadlines are day-level.
func dateOnly(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
