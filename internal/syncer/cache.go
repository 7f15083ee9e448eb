package syncer

import (
	"context"
	"sync"

	"github.com/agentworkforce/calsync/internal/caldav"
)

// eventCache indexes a calendar's events by UID for the duration of one
// reconciliation cycle. One bulk fetch per calendar bounds remote calls;
// after the fetch the cache is the sole source of truth for existence checks
// within the cycle, so every write must invalidate through it.
//
// Lifetime is strictly cycle-scoped: Clear runs unconditionally at cycle
// end, success or failure.
type eventCache struct {
	mu        sync.Mutex
	calendars map[string]map[string]caldav.Event
}

func newEventCache() *eventCache {
	return &eventCache{calendars: map[string]map[string]caldav.Event{}}
}

// Load returns the UID index for calendarID, fetching it once per cycle.
// The returned map is a snapshot copy; mutations go through Invalidate.
func (c *eventCache) Load(ctx context.Context, client caldav.Client, retry RetryPolicy, calendarID string) (map[string]caldav.Event, error) {
	c.mu.Lock()
	cached, ok := c.calendars[calendarID]
	c.mu.Unlock()
	if !ok {
		var events []caldav.Event
		err := retry.Do(ctx, func() error {
			var listErr error
			events, listErr = client.ListEvents(ctx, calendarID)
			return listErr
		})
		if err != nil {
			return nil, err
		}
		cached = make(map[string]caldav.Event, len(events))
		for _, event := range events {
			cached[event.UID] = event
		}
		c.mu.Lock()
		c.calendars[calendarID] = cached
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[string]caldav.Event, len(cached))
	for uid, event := range c.calendars[calendarID] {
		snapshot[uid] = event
	}
	return snapshot, nil
}

// Get looks up one entry in an already-loaded calendar.
func (c *eventCache) Get(calendarID, uid string) (caldav.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events, ok := c.calendars[calendarID]
	if !ok {
		return caldav.Event{}, false
	}
	event, ok := events[uid]
	return event, ok
}

// Invalidate overwrites one entry with newValue, or removes it when
// newValue is nil. A no-op for calendars that were never loaded.
func (c *eventCache) Invalidate(calendarID, uid string, newValue *caldav.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	events, ok := c.calendars[calendarID]
	if !ok {
		return
	}
	if newValue != nil {
		events[uid] = *newValue
		return
	}
	delete(events, uid)
}

// Clear drops every cached calendar.
func (c *eventCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calendars = map[string]map[string]caldav.Event{}
}
