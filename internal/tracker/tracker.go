// Package tracker provides the issue-tracker collaborator: domain types and
// an HTTP client for listing projects and work items.
package tracker

import (
	"fmt"
	"time"
)

// Project is a container of work items on the tracker side.
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// User is an assignable tracker account.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// Label is a tracker label attached to an item.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is a unit of work as reported by the tracker. Instances are immutable
// snapshots; every sync cycle fetches fresh ones.
type Item struct {
	ID          string     `json:"id"`
	SequenceID  int        `json:"sequence_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartDate   *time.Time `json:"start_date"`
	DueDate     *time.Time `json:"target_date"`
	CompletedAt *time.Time `json:"completed_at"`
	Priority    string     `json:"priority"`
	Assignees   []User     `json:"assignees"`
	Labels      []Label    `json:"labels"`
	ProjectID   string     `json:"project"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// URL is the canonical web address of the item, filled in by the
	// client that fetched it.
	URL string `json:"url"`
}

// APIError is a failed tracker API call. Status code zero means the request
// never produced an HTTP response (network failure).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("tracker request failed: %s", e.Message)
	}
	return fmt.Sprintf("tracker api %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying. Auth and
// validation failures (4xx) are terminal.
func (e *APIError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
