package syncer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/calsync/internal/caldav"
	"github.com/agentworkforce/calsync/internal/tracker"
)

// Logger is the minimal logging contract the sync engine needs. The standard
// library's *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// Mapping associates a tracked project with its destination calendar and
// carries per-project sync bookkeeping. Mappings are never deleted while the
// process runs; re-initialization replaces the whole set.
type Mapping struct {
	ProjectID    string
	ProjectName  string
	CalendarID   string
	CalendarName string
	LastSyncedAt time.Time
	Created      int
	Updated      int
	Deleted      int
}

// registry maintains project-to-calendar assignments, creating calendars
// that do not exist yet and never binding two projects to the same one.
// Writes are serialized by the engine's single-flight slot; the mutex exists
// because snapshot is also read off-cycle by the status path.
type registry struct {
	prefix string

	mu       sync.Mutex
	mappings map[string]*Mapping
	order    []string
}

func newRegistry(prefix string) *registry {
	if prefix == "" {
		prefix = "Tracker"
	}
	return &registry{prefix: prefix, mappings: map[string]*Mapping{}}
}

// expectedName is the display name a project's calendar carries.
func (r *registry) expectedName(projectName string) string {
	return r.prefix + ": " + projectName
}

// initialize rebuilds the full project-calendar mapping. It is idempotent:
// the search always scans current calendars first, so re-running never
// creates duplicates for an already-mapped project. On any collaborator
// failure nothing is committed and the previous mapping set stays in place.
func (r *registry) initialize(ctx context.Context, trackerClient tracker.Client, calendarClient caldav.Client, retry RetryPolicy, logger Logger) error {
	var projects []tracker.Project
	err := retry.Do(ctx, func() error {
		var listErr error
		projects, listErr = trackerClient.ListProjects(ctx)
		return listErr
	})
	if err != nil {
		return err
	}

	var calendars []caldav.Calendar
	err = retry.Do(ctx, func() error {
		var listErr error
		calendars, listErr = calendarClient.ListCalendars(ctx)
		return listErr
	})
	if err != nil {
		return err
	}

	assigned := map[string]bool{}
	next := make(map[string]*Mapping, len(projects))
	var order []string

	for _, project := range projects {
		want := r.expectedName(project.Name)

		var match *caldav.Calendar
		for i := range calendars {
			if assigned[calendars[i].ID] {
				continue
			}
			if strings.EqualFold(calendars[i].Name, want) {
				match = &calendars[i]
				break
			}
		}

		if match == nil {
			var created caldav.Calendar
			err := retry.Do(ctx, func() error {
				var createErr error
				created, createErr = calendarClient.CreateCalendar(ctx, want, "Tasks from tracker project: "+project.Name)
				return createErr
			})
			if err != nil {
				return err
			}
			logger.Printf("created calendar %q for project %q", want, project.Name)
			match = &created
		}
		assigned[match.ID] = true

		next[project.ID] = &Mapping{
			ProjectID:    project.ID,
			ProjectName:  project.Name,
			CalendarID:   match.ID,
			CalendarName: match.Name,
		}
		order = append(order, project.ID)
	}

	r.mu.Lock()
	// Keep running counters across re-initializations.
	for id, mapping := range next {
		if prev, ok := r.mappings[id]; ok {
			mapping.LastSyncedAt = prev.LastSyncedAt
			mapping.Created = prev.Created
			mapping.Updated = prev.Updated
			mapping.Deleted = prev.Deleted
		}
	}
	r.mappings = next
	r.order = order
	r.mu.Unlock()
	logger.Printf("registry initialized: %d project mappings", len(next))
	return nil
}

func (r *registry) lookup(projectID string) (*Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[projectID]
	return m, ok
}

func (r *registry) record(projectID string, created, updated, deleted int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[projectID]
	if !ok {
		return
	}
	m.Created += created
	m.Updated += updated
	m.Deleted += deleted
	m.LastSyncedAt = at
}

func (r *registry) snapshot() []Mapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Mapping, 0, len(r.order))
	for _, id := range r.order {
		if m, ok := r.mappings[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

func (r *registry) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mappings) == 0
}
