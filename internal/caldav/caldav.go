// Package caldav provides the calendar-server collaborator: event and
// calendar types, the client contract, and an HTTP implementation speaking
// the CalDAV wire protocol with iCalendar payloads.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound marks lookups and deletes that hit a missing calendar or
// event. Delete callers treat it as success.
var ErrNotFound = errors.New("not found")

// NotFoundError carries the identifier that was missing.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ProtocolError is a failed CalDAV request. Status code zero means the
// request never reached the server.
type ProtocolError struct {
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("caldav request failed: %s", e.Message)
	}
	return fmt.Sprintf("caldav %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying.
func (e *ProtocolError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// Status is an RFC 5545 VEVENT status.
type Status string

const (
	StatusTentative Status = "TENTATIVE"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// Calendar is a destination event collection.
type Calendar struct {
	ID          string
	Name        string
	Description string
	URL         string
}

// Event is the destination representation of a tracked item. Start and End
// are date-granularity for all-day events; End is inclusive and may be nil
// for single-day events.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         *time.Time
	AllDay      bool
	Status      Status
	Categories  []string
	Attendees   []string
	URL         string
}

// Client is the calendar collaborator contract consumed by the sync engine.
// ListCalendars never returns scheduling/inbox collections. DeleteEvent on a
// missing UID returns an error satisfying errors.Is(err, ErrNotFound), which
// the core treats as success.
type Client interface {
	ListCalendars(ctx context.Context) ([]Calendar, error)
	CreateCalendar(ctx context.Context, name, description string) (Calendar, error)
	ListEvents(ctx context.Context, calendarID string) ([]Event, error)
	CreateEvent(ctx context.Context, calendarID string, event Event) error
	UpdateEvent(ctx context.Context, calendarID, uid string, event Event) error
	DeleteEvent(ctx context.Context, calendarID, uid string) error
}
