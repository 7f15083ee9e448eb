package syncer

import (
	"context"
	"strings"
	"time"

	"github.com/agentworkforce/calsync/internal/tracker"
)

type action int

const (
	actionNone action = iota
	actionCreated
	actionUpdated
	actionDeleted
)

// Reconcile converges one project's calendar onto the tracker's current
// state: events for items that vanished or lost their due date are removed,
// everything else is created or overwritten in place. A failed item fetch
// aborts the pass; failures on individual events are logged and skipped so
// one bad item cannot block the rest.
func (e *Engine) Reconcile(ctx context.Context, projectID, calendarID string) (synced, deleted int, err error) {
	var items []tracker.Item
	err = e.retry.Do(ctx, func() error {
		var listErr error
		items, listErr = e.tracker.ListItems(ctx, projectID)
		return listErr
	})
	if err != nil {
		return 0, 0, err
	}

	cached, err := e.cache.Load(ctx, e.calendar, e.retry, calendarID)
	if err != nil {
		return 0, 0, err
	}

	desired := make(map[string]bool, len(items))
	for _, item := range items {
		desired[DeterministicEventID(item.ID)] = true
	}

	// Remove events for items that no longer exist. Only UIDs in our
	// namespace are candidates; anything else in the calendar is not ours
	// to touch.
	for uid := range cached {
		if !strings.HasSuffix(uid, eventIDSuffix) || desired[uid] {
			continue
		}
		removed, delErr := e.deleteEvent(ctx, calendarID, uid)
		if delErr != nil {
			e.logger.Printf("delete event %s in calendar %s: %v", uid, calendarID, delErr)
			continue
		}
		if removed {
			deleted++
		}
	}

	var created, updated int
	for _, item := range items {
		act, itemErr := e.syncOne(ctx, item, calendarID, true)
		if itemErr != nil {
			e.logger.Printf("sync item %s (%q): %v", item.ID, item.Name, itemErr)
			continue
		}
		switch act {
		case actionCreated:
			created++
			synced++
		case actionUpdated:
			updated++
			synced++
		case actionDeleted:
			deleted++
		}
	}

	e.registry.record(projectID, created, updated, deleted, time.Now().UTC())
	return synced, deleted, nil
}

// SyncItem pushes a single item's state to its calendar. With useCache set
// the cycle cache decides between create and update; without it the engine
// probes the server directly. An item with no due date becomes an idempotent
// delete.
func (e *Engine) SyncItem(ctx context.Context, item tracker.Item, calendarID string, useCache bool) error {
	_, err := e.syncOne(ctx, item, calendarID, useCache)
	return err
}

func (e *Engine) syncOne(ctx context.Context, item tracker.Item, calendarID string, useCache bool) (action, error) {
	event, ok := MapItem(item)
	if !ok {
		removed, err := e.deleteEvent(ctx, calendarID, DeterministicEventID(item.ID))
		if err != nil {
			return actionNone, err
		}
		if removed {
			return actionDeleted, nil
		}
		return actionNone, nil
	}

	exists := false
	if useCache {
		if _, err := e.cache.Load(ctx, e.calendar, e.retry, calendarID); err != nil {
			return actionNone, err
		}
		_, exists = e.cache.Get(calendarID, event.UID)
	}

	if exists {
		err := e.retry.Do(ctx, func() error {
			return e.calendar.UpdateEvent(ctx, calendarID, event.UID, event)
		})
		if err == nil {
			e.cache.Invalidate(calendarID, event.UID, &event)
			return actionUpdated, nil
		}
		if !IsNotFound(err) {
			return actionNone, err
		}
		// Cache said the event existed but the server disagrees; fall
		// through and create it.
	}

	if !useCache {
		// Probe with an update first: overwriting in place is the common
		// case for targeted syncs.
		err := e.retry.Do(ctx, func() error {
			return e.calendar.UpdateEvent(ctx, calendarID, event.UID, event)
		})
		if err == nil {
			e.cache.Invalidate(calendarID, event.UID, &event)
			return actionUpdated, nil
		}
		if !IsNotFound(err) {
			return actionNone, err
		}
	}

	err := e.retry.Do(ctx, func() error {
		return e.calendar.CreateEvent(ctx, calendarID, event)
	})
	if err != nil {
		return actionNone, err
	}
	e.cache.Invalidate(calendarID, event.UID, &event)
	return actionCreated, nil
}

// deleteEvent removes one event, treating an already-missing resource as
// success. The boolean reports whether anything was actually removed.
func (e *Engine) deleteEvent(ctx context.Context, calendarID, uid string) (bool, error) {
	err := e.retry.Do(ctx, func() error {
		return e.calendar.DeleteEvent(ctx, calendarID, uid)
	})
	if err != nil {
		if IsNotFound(err) {
			e.cache.Invalidate(calendarID, uid, nil)
			return false, nil
		}
		return false, err
	}
	e.cache.Invalidate(calendarID, uid, nil)
	return true, nil
}

// DeleteItemEvent removes the event derived from itemID wherever it lives.
// Used by webhook delete notifications, where only the item identifier is
// known. Every mapped calendar is probed; a miss everywhere is still success.
func (e *Engine) DeleteItemEvent(ctx context.Context, itemID string) (bool, error) {
	uid := DeterministicEventID(itemID)
	removed := false
	for _, mapping := range e.registry.snapshot() {
		ok, err := e.deleteEvent(ctx, mapping.CalendarID, uid)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = true
		}
	}
	return removed, nil
}
