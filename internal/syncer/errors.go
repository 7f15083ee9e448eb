package syncer

import (
	"errors"
	"fmt"

	"github.com/agentworkforce/calsync/internal/caldav"
)

// ErrSyncBusy signals that a reconciliation pass is already in flight.
// Callers skip the cycle; they never queue behind the running one.
var ErrSyncBusy = errors.New("sync already in progress")

// ValidationError marks terminally malformed input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// transient is implemented by collaborator errors that are worth retrying
// (network failures, 5xx, throttling).
type transient interface {
	Transient() bool
}

// IsTransient reports whether err is a retryable remote failure. Validation
// and not-found outcomes are never transient.
func IsTransient(err error) bool {
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

// IsNotFound reports whether err is a missing-resource outcome from the
// calendar collaborator.
func IsNotFound(err error) bool {
	return errors.Is(err, caldav.ErrNotFound)
}
