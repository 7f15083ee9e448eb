package syncer

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentworkforce/calsync/internal/caldav"
	"github.com/agentworkforce/calsync/internal/tracker"
	"github.com/agentworkforce/calsync/internal/watermark"
)

// Options wires the engine's collaborators. Tracker and Calendar are
// required; everything else has a usable default.
type Options struct {
	Tracker         tracker.Client
	Calendar        caldav.Client
	Watermark       watermark.Backend
	Retry           RetryPolicy
	Logger          Logger
	CalendarPrefix  string
	DefaultLookback time.Duration
}

// Engine drives reconciliation cycles. At most one cycle runs at a time;
// triggers that arrive while one is in flight are rejected with ErrSyncBusy
// rather than queued.
type Engine struct {
	tracker  tracker.Client
	calendar caldav.Client
	store    watermark.Backend
	retry    RetryPolicy
	logger   Logger
	lookback time.Duration

	registry *registry
	cache    *eventCache

	busy   atomic.Bool
	wg     sync.WaitGroup
	cycles atomic.Int64

	stateMu       sync.Mutex
	lastSync      time.Time
	lastScheduled time.Time

	subMu sync.Mutex
	subs  map[chan CycleSummary]struct{}
}

// CycleSummary describes one completed reconciliation cycle.
type CycleSummary struct {
	Trigger   string        `json:"trigger"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Projects  int           `json:"projects"`
	Synced    int           `json:"synced"`
	Deleted   int           `json:"deleted"`
	Failed    int           `json:"failed"`
}

// Stats is a point-in-time view of engine state for status endpoints.
type Stats struct {
	Busy     bool      `json:"busy"`
	Cycles   int64     `json:"cycles"`
	LastSync time.Time `json:"last_sync"`
	Mappings []Mapping `json:"mappings"`
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	store := opts.Watermark
	if store == nil {
		store = watermark.NewInMemoryBackend()
	}
	lookback := opts.DefaultLookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Engine{
		tracker:  opts.Tracker,
		calendar: opts.Calendar,
		store:    store,
		retry:    opts.Retry.normalized(),
		logger:   logger,
		lookback: lookback,
		registry: newRegistry(opts.CalendarPrefix),
		cache:    newEventCache(),
		subs:     map[chan CycleSummary]struct{}{},
	}
}

// begin claims the single-flight slot. The returned release must run at
// cycle end on every path; it also drops the cycle cache.
func (e *Engine) begin() (func(), error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrSyncBusy
	}
	e.wg.Add(1)
	return func() {
		e.cache.Clear()
		e.busy.Store(false)
		e.wg.Done()
	}, nil
}

// SyncAll reconciles every mapped project. The registry is re-initialized
// first; initialization is idempotent, so this never duplicates calendars,
// it only picks up projects created since the last cycle.
func (e *Engine) SyncAll(ctx context.Context) (CycleSummary, error) {
	release, err := e.begin()
	if err != nil {
		return CycleSummary{}, err
	}
	defer release()

	if err := e.registry.initialize(ctx, e.tracker, e.calendar, e.retry, e.logger); err != nil {
		return CycleSummary{}, err
	}
	return e.runCycle(ctx, "manual")
}

// SyncUpdatedSince runs the scheduled incremental cycle. The registry is
// re-initialized every time so freshly created projects get calendars, and
// every project is then diffed in full: deletions on the tracker side never
// show up as updated items, so an update-window fetch alone cannot see them.
// The watermark bounds the logged window only; absent one, the default
// lookback stands in.
func (e *Engine) SyncUpdatedSince(ctx context.Context) (CycleSummary, error) {
	release, err := e.begin()
	if err != nil {
		return CycleSummary{}, err
	}
	defer release()

	since, ok, err := e.store.Load(ctx)
	if err != nil {
		e.logger.Printf("load watermark: %v", err)
		ok = false
	}
	if !ok {
		since = time.Now().UTC().Add(-e.lookback)
	}
	e.logger.Printf("scheduled sync: changes since %s", since.Format(time.RFC3339))

	if err := e.registry.initialize(ctx, e.tracker, e.calendar, e.retry, e.logger); err != nil {
		return CycleSummary{}, err
	}

	summary, err := e.runCycle(ctx, "scheduled")
	if err != nil {
		return summary, err
	}
	e.stateMu.Lock()
	e.lastScheduled = summary.StartedAt
	e.stateMu.Unlock()
	if saveErr := e.store.Save(ctx, summary.StartedAt); saveErr != nil {
		e.logger.Printf("save watermark: %v", saveErr)
	}
	return summary, nil
}

func (e *Engine) runCycle(ctx context.Context, trigger string) (CycleSummary, error) {
	start := time.Now().UTC()
	summary := CycleSummary{Trigger: trigger, StartedAt: start}

	for _, mapping := range e.registry.snapshot() {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		synced, deleted, err := e.Reconcile(ctx, mapping.ProjectID, mapping.CalendarID)
		if err != nil {
			e.logger.Printf("reconcile project %q: %v", mapping.ProjectName, err)
			summary.Failed++
			continue
		}
		summary.Projects++
		summary.Synced += synced
		summary.Deleted += deleted
	}

	summary.Duration = time.Since(start)
	e.cycles.Add(1)
	e.stateMu.Lock()
	e.lastSync = start
	e.stateMu.Unlock()
	e.logger.Printf("%s sync done: %d projects, %d synced, %d deleted, %d failed in %s",
		trigger, summary.Projects, summary.Synced, summary.Deleted, summary.Failed, summary.Duration.Round(time.Millisecond))
	e.publish(summary)
	return summary, nil
}

// SyncProjectItem handles a targeted webhook sync for one item. The owning
// project must already be mapped; unknown projects trigger a registry
// refresh first so items in brand-new projects still land.
func (e *Engine) SyncProjectItem(ctx context.Context, projectID string, item tracker.Item) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	mapping, ok := e.registry.lookup(projectID)
	if !ok {
		if err := e.registry.initialize(ctx, e.tracker, e.calendar, e.retry, e.logger); err != nil {
			return err
		}
		mapping, ok = e.registry.lookup(projectID)
		if !ok {
			return &ValidationError{Field: "project", Message: "unknown project " + projectID}
		}
	}
	return e.SyncItem(ctx, item, mapping.CalendarID, false)
}

// RemoveItem handles a webhook delete notification. Only the item ID is
// known at that point; the derived event is removed from whichever mapped
// calendar holds it.
func (e *Engine) RemoveItem(ctx context.Context, itemID string) error {
	release, err := e.begin()
	if err != nil {
		return err
	}
	defer release()

	if e.registry.empty() {
		if err := e.registry.initialize(ctx, e.tracker, e.calendar, e.retry, e.logger); err != nil {
			return err
		}
	}
	_, err = e.DeleteItemEvent(ctx, itemID)
	return err
}

// CleanupCompleted removes cancelled events whose dates fell out of the
// retention window. Runs from the hourly maintenance job.
func (e *Engine) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	release, err := e.begin()
	if err != nil {
		return 0, err
	}
	defer release()

	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0
	for _, mapping := range e.registry.snapshot() {
		events, err := e.cache.Load(ctx, e.calendar, e.retry, mapping.CalendarID)
		if err != nil {
			e.logger.Printf("cleanup list calendar %s: %v", mapping.CalendarID, err)
			continue
		}
		for uid, event := range events {
			if event.Status != caldav.StatusCancelled {
				continue
			}
			last := event.Start
			if event.End != nil {
				last = *event.End
			}
			if !last.Before(cutoff) {
				continue
			}
			ok, delErr := e.deleteEvent(ctx, mapping.CalendarID, uid)
			if delErr != nil {
				e.logger.Printf("cleanup delete %s: %v", uid, delErr)
				continue
			}
			if ok {
				removed++
			}
		}
	}
	if removed > 0 {
		e.logger.Printf("cleanup removed %d stale completed events", removed)
	}
	return removed, nil
}

// Stats reports current engine state.
func (e *Engine) Stats() Stats {
	e.stateMu.Lock()
	last := e.lastSync
	e.stateMu.Unlock()
	return Stats{
		Busy:     e.busy.Load(),
		Cycles:   e.cycles.Load(),
		LastSync: last,
		Mappings: e.registry.snapshot(),
	}
}

// Subscribe registers a listener for cycle summaries. Slow listeners drop
// summaries instead of blocking the engine. The returned cancel must be
// called exactly once.
func (e *Engine) Subscribe() (<-chan CycleSummary, func()) {
	ch := make(chan CycleSummary, 8)
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()
	cancel := func() {
		e.subMu.Lock()
		delete(e.subs, ch)
		e.subMu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) publish(summary CycleSummary) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- summary:
		default:
		}
	}
}

// Stop waits for any in-flight cycle to finish, bounded by ctx, persists
// the latest watermark, and closes the backend. The engine must not be used
// afterwards. Only scheduled cycles move the watermark: a manual SyncAll
// never saved one mid-run, so it must not narrow the lookback window here
// either.
func (e *Engine) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Printf("shutdown: abandoning in-flight sync: %v", ctx.Err())
	}
	e.stateMu.Lock()
	last := e.lastScheduled
	e.stateMu.Unlock()
	if !last.IsZero() {
		if err := e.store.Save(ctx, last); err != nil {
			e.logger.Printf("shutdown: save watermark: %v", err)
		}
	}
	return e.store.Close()
}
