// Package engine orchestrates accounting, the ledger, the policy gate and the
// reclaimer into the operations the scheduler and the CLI invoke.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/quotakeeper/internal/calendar"
	"github.com/goodtune/quotakeeper/internal/clock"
	"github.com/goodtune/quotakeeper/internal/ledger"
	"github.com/goodtune/quotakeeper/internal/metrics"
	"github.com/goodtune/quotakeeper/internal/policy"
	"github.com/goodtune/quotakeeper/internal/reclaim"
	"github.com/goodtune/quotakeeper/internal/resource"
	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/goodtune/quotakeeper/internal/usage"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrExternalAPI marks a failed call to the resource controller, the
	// event store or the ownership directory. The unit of work is skipped and
	// retried on the next run.
	ErrExternalAPI = errors.New("external api failure")
	// ErrPersistence marks a failed ledger write. The ledger value is left
	// unchanged.
	ErrPersistence = errors.New("persistence failure")
)

// Options tunes an Engine.
type Options struct {
	// Lookback widens the event query before local midnight so the previous
	// evening's events are listed too. Older open sessions are carried in
	// through their Start regardless.
	Lookback    time.Duration
	Concurrency int
	// UpdatePeriodOnly skips periodic sweeps inside the exclusion window.
	UpdatePeriodOnly bool
	// WindowEndStop enables stopping everything when the exclusion window ends.
	WindowEndStop    bool
	WindowEndMessage string
	// DeferredBatch bounds how many deferred tasks one run claims.
	DeferredBatch int
	// DeferredRetry delays a deferred task that failed.
	DeferredRetry time.Duration
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Calendar   *calendar.Calendar
	Accountant *usage.Accountant
	Ledger     *ledger.Ledger
	Gate       *policy.Gate
	Reclaimer  *reclaim.Reclaimer
	Events     storage.EventStore
	Ownership  storage.OwnershipDirectory
	Controller resource.Controller
	Deferred   storage.DeferredStore
	Clock      clock.Clock
}

// Engine runs the quota operations. Every operation is safe to run
// concurrently with a straggling previous run.
type Engine struct {
	Deps
	opts   Options
	logger zerolog.Logger
}

// New creates an engine.
func New(deps Deps, opts Options, logger zerolog.Logger) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.DeferredBatch <= 0 {
		opts.DeferredBatch = 100
	}
	if opts.DeferredRetry <= 0 {
		opts.DeferredRetry = time.Minute
	}

	return &Engine{
		Deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Stats summarises one accounting sweep.
type Stats struct {
	Date             string        `json:"date"`
	Skipped          bool          `json:"skipped,omitempty"`
	OwnersReconciled int           `json:"owners_reconciled"`
	OwnersSkipped    int           `json:"owners_skipped"`
	InvalidEvents    int           `json:"invalid_events"`
	Reclaim          reclaim.Stats `json:"reclaim"`
	Elapsed          time.Duration `json:"elapsed"`
}

// ownerReport is the outcome of reconciling one owner
type ownerReport struct {
	charge  time.Duration
	invalid int
	entry   *storage.LedgerEntry
}

// Reset sets every owner to date's budget. Repeated calls for the same date
// do nothing.
func (e *Engine) Reset(ctx context.Context, date calendar.Date) (int, error) {
	n, err := e.Ledger.Reset(ctx, date)
	if err != nil {
		e.logger.Error().Err(err).Str("date", date.String()).Msg("Ledger reset failed")
		return n, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return n, nil
}

// ResetToday resets the ledger for the current local date and records a
// midnight Start for every entity still running across the day boundary.
func (e *Engine) ResetToday(ctx context.Context) (int, error) {
	var merr *multierror.Error

	n, err := e.Reset(ctx, e.Calendar.Today(e.Clock.Now()))
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	if _, err := e.RecordMidnightStarts(ctx); err != nil {
		merr = multierror.Append(merr, err)
	}

	return n, merr.ErrorOrNil()
}

// RecordMidnightStarts appends a Start at today's local midnight for every
// running entity whose session carried over from the previous day, so each
// day's event log opens with the sessions already in progress. Entities with
// no history at all are treated as carried over. Replays are ignored by the
// event store. It returns how many new events were recorded.
func (e *Engine) RecordMidnightStarts(ctx context.Context) (int, error) {
	now := e.Clock.Now()
	midnight := e.Calendar.DayStart(e.Calendar.Today(now))

	owners, err := e.Ownership.Owners(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list owners: %w", ErrExternalAPI, err)
	}

	var (
		mu       sync.Mutex
		merr     *multierror.Error
		recorded int
	)
	eg := errgroup.Group{}
	eg.SetLimit(e.opts.Concurrency)

	for _, owner := range owners {
		eg.Go(func() error {
			n, err := e.recordOwnerMidnightStarts(ctx, owner, midnight, now)

			mu.Lock()
			defer mu.Unlock()
			recorded += n
			if err != nil {
				merr = multierror.Append(merr, fmt.Errorf("owner %s: %w", owner, err))
			}
			return nil
		})
	}
	_ = eg.Wait()

	e.logger.Info().
		Time("midnight", midnight).
		Int("recorded", recorded).
		Msg("Midnight starts recorded")

	return recorded, merr.ErrorOrNil()
}

func (e *Engine) recordOwnerMidnightStarts(ctx context.Context, ownerID string, midnight, now time.Time) (int, error) {
	entities, err := e.Ownership.EntitiesOf(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list entities: %w", ErrExternalAPI, err)
	}
	if len(entities) == 0 {
		return 0, nil
	}

	states, err := e.Controller.DescribeState(ctx, entities)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to describe entities: %w", ErrExternalAPI, err)
	}

	recorded := 0
	for _, entityID := range entities {
		if states[entityID] != resource.StateRunning {
			continue
		}

		carried, err := e.carriedOver(ctx, entityID, midnight, now)
		if err != nil {
			return recorded, err
		}
		if !carried {
			continue
		}

		ev := usage.Event{EntityID: entityID, Kind: usage.KindStart, Timestamp: midnight, Source: usage.SourceMidnight}
		err = e.Events.Append(ctx, ev)
		switch {
		case errors.Is(err, storage.ErrDuplicateEvent):
			metrics.EventsRecorded.WithLabelValues(string(ev.Kind), "duplicate").Inc()
		case err != nil:
			metrics.EventsRecorded.WithLabelValues(string(ev.Kind), "failed").Inc()
			return recorded, fmt.Errorf("%w: %w", ErrExternalAPI, err)
		default:
			metrics.EventsRecorded.WithLabelValues(string(ev.Kind), "appended").Inc()
			recorded++
		}
	}
	return recorded, nil
}

// carriedOver reports whether a running entity's session began before
// midnight: its last earlier event is a Start, or it has no events at all.
func (e *Engine) carriedOver(ctx context.Context, entityID string, midnight, now time.Time) (bool, error) {
	last, err := e.Events.Last(ctx, entityID, midnight)
	switch {
	case err == nil:
		return last.Kind == usage.KindStart, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("%w: failed to read last event of %s: %w", ErrExternalAPI, entityID, err)
	}

	since, err := e.Events.Query(ctx, entityID, midnight, now)
	if err != nil {
		return false, fmt.Errorf("%w: failed to query events of %s: %w", ErrExternalAPI, entityID, err)
	}
	return len(since) == 0, nil
}

// DayEvents returns the events that bear on entity's charge for the day
// containing now. A session still open from before the query range is
// carried in through its Start.
func (e *Engine) DayEvents(ctx context.Context, entityID string, now time.Time) ([]usage.Event, error) {
	from := e.Calendar.DayStart(e.Calendar.Today(now)).Add(-e.opts.Lookback)

	events, err := e.Events.Query(ctx, entityID, from, now)
	if err != nil {
		return nil, err
	}

	last, err := e.Events.Last(ctx, entityID, from)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return events, nil
	case err != nil:
		return nil, err
	}
	if last.Kind == usage.KindStart {
		events = append([]usage.Event{last}, events...)
	}
	return events, nil
}

// AccountAndReclaim reconciles every owner's usage into the ledger, then
// stops the entities of owners left without budget.
func (e *Engine) AccountAndReclaim(ctx context.Context) (Stats, error) {
	startTime := time.Now()
	now := e.Clock.Now()
	today := e.Calendar.Today(now)
	stats := Stats{Date: today.String()}

	if e.opts.UpdatePeriodOnly && e.Calendar.InExclusion(now) {
		stats.Skipped = true
		metrics.ReconcileRuns.WithLabelValues("skipped").Inc()
		e.logger.Debug().Time("now", now).Msg("Inside exclusion window, skipping sweep")
		return stats, nil
	}

	var merr *multierror.Error

	// A missed midnight reset is caught up here; ApplyUsage resets lazily too
	if _, err := e.Reset(ctx, today); err != nil {
		merr = multierror.Append(merr, err)
	}

	owners, err := e.Ownership.Owners(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("failed").Inc()
		return stats, fmt.Errorf("%w: failed to list owners: %w", ErrExternalAPI, err)
	}

	var mu sync.Mutex
	eg := errgroup.Group{}
	eg.SetLimit(e.opts.Concurrency)

	for _, owner := range owners {
		eg.Go(func() error {
			report, err := e.reconcileOwner(ctx, owner, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.OwnersSkipped++
				merr = multierror.Append(merr, fmt.Errorf("owner %s: %w", owner, err))
				return nil
			}
			stats.OwnersReconciled++
			stats.InvalidEvents += report.invalid
			return nil
		})
	}
	_ = eg.Wait()

	reclaimStats, err := e.Reclaimer.Sweep(ctx)
	stats.Reclaim = reclaimStats
	if err != nil {
		merr = multierror.Append(merr, err)
	}

	stats.Elapsed = time.Since(startTime)
	metrics.ReconcileDuration.Observe(stats.Elapsed.Seconds())

	result := "ok"
	if merr.ErrorOrNil() != nil {
		result = "partial"
	}
	metrics.ReconcileRuns.WithLabelValues(result).Inc()

	e.logger.Info().
		Str("date", stats.Date).
		Int("owners_reconciled", stats.OwnersReconciled).
		Int("owners_skipped", stats.OwnersSkipped).
		Int("invalid_events", stats.InvalidEvents).
		Int("entities_stopped", stats.Reclaim.EntitiesStopped).
		Dur("elapsed", stats.Elapsed).
		Msg("Accounting sweep complete")

	return stats, merr.ErrorOrNil()
}

// ReconcileOwner recomputes an owner's chargeable usage for today and applies
// it to the ledger. It returns today's total charge.
func (e *Engine) ReconcileOwner(ctx context.Context, ownerID string) (time.Duration, error) {
	report, err := e.reconcileOwner(ctx, ownerID, e.Clock.Now())
	if err != nil {
		return 0, err
	}
	return report.charge, nil
}

func (e *Engine) reconcileOwner(ctx context.Context, ownerID string, now time.Time) (ownerReport, error) {
	var report ownerReport
	log := e.logger.With().Str("owner_id", ownerID).Logger()

	entities, err := e.Ownership.EntitiesOf(ctx, ownerID)
	if err != nil {
		metrics.OwnersSkipped.WithLabelValues("ownership").Inc()
		log.Warn().Err(err).Msg("Skipping owner: failed to list entities")
		return report, fmt.Errorf("%w: failed to list entities: %w", ErrExternalAPI, err)
	}

	today := e.Calendar.Today(now)

	for _, entityID := range entities {
		events, err := e.DayEvents(ctx, entityID, now)
		if err != nil {
			// Partial totals would under-charge, so the whole owner waits
			metrics.OwnersSkipped.WithLabelValues("events").Inc()
			log.Warn().Err(err).Str("entity_id", entityID).Msg("Skipping owner: failed to query events")
			return report, fmt.Errorf("%w: failed to query events of %s: %w", ErrExternalAPI, entityID, err)
		}

		res := e.Accountant.Charge(entityID, events, now)
		report.charge += res.Charge
		report.invalid += len(res.Invalid)
	}

	entry, err := e.Ledger.ApplyUsage(ctx, ownerID, today, report.charge)
	if err != nil {
		metrics.OwnersSkipped.WithLabelValues("ledger").Inc()
		log.Error().Err(err).Dur("charge", report.charge).Msg("Failed to apply usage; ledger left unchanged")
		return report, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	report.entry = entry

	log.Debug().
		Dur("charge", report.charge).
		Dur("remaining", entry.Remaining).
		Int("invalid_events", report.invalid).
		Msg("Owner reconciled")

	return report, nil
}

// AuthorizeStart refreshes the requester's ledger and asks the gate whether
// they may start entity. An allowed start schedules a persisted check for
// the moment the remaining budget would run out.
func (e *Engine) AuthorizeStart(ctx context.Context, requester, entityID string) (policy.Decision, error) {
	owner, err := e.Ownership.OwnerOf(ctx, entityID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// the gate denies unowned entities
	case err != nil:
		return policy.Decision{}, fmt.Errorf("%w: failed to look up owner: %w", ErrExternalAPI, err)
	case owner == requester:
		if _, err := e.ReconcileOwner(ctx, owner); err != nil {
			return policy.Decision{}, err
		}
	}

	d, err := e.Gate.CanStart(ctx, requester, entityID)
	if err != nil {
		return d, fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}
	if !d.Allowed {
		return d, nil
	}

	task := storage.DeferredTask{
		Kind:     storage.TaskReconcileOwner,
		OwnerID:  d.OwnerID,
		EntityID: entityID,
		DueAt:    e.Clock.Now().Add(d.Remaining),
	}
	if err := e.Deferred.Schedule(ctx, task); err != nil {
		// The periodic sweep still catches exhaustion, only later
		e.logger.Warn().Err(err).Str("owner_id", d.OwnerID).Msg("Failed to schedule exhaustion check")
	} else {
		metrics.DeferredTasks.WithLabelValues(string(task.Kind), "scheduled").Inc()
	}

	return d, nil
}

// AuthorizeStop asks the gate whether requester may stop entity.
func (e *Engine) AuthorizeStop(ctx context.Context, requester, entityID string) (policy.Decision, error) {
	d, err := e.Gate.CanStop(ctx, requester, entityID)
	if err != nil {
		return d, fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}
	return d, nil
}

// RecordEvent appends a usage event. Replaying an event already recorded is
// not an error.
func (e *Engine) RecordEvent(ctx context.Context, event usage.Event) error {
	if event.Source == "" {
		event.Source = usage.SourceUser
	}

	err := e.Events.Append(ctx, event)
	switch {
	case errors.Is(err, storage.ErrDuplicateEvent):
		metrics.EventsRecorded.WithLabelValues(string(event.Kind), "duplicate").Inc()
		e.logger.Debug().Str("entity_id", event.EntityID).Str("kind", string(event.Kind)).Msg("Ignoring duplicate event")
		return nil
	case err != nil:
		metrics.EventsRecorded.WithLabelValues(string(event.Kind), "failed").Inc()
		return fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}

	metrics.EventsRecorded.WithLabelValues(string(event.Kind), "appended").Inc()
	e.logger.Info().
		Str("entity_id", event.EntityID).
		Str("kind", string(event.Kind)).
		Time("timestamp", event.Timestamp).
		Str("source", event.Source).
		Msg("Event recorded")
	return nil
}

// RunDeferred claims due deferred tasks and runs them. Owners found exhausted
// are reclaimed straight away. It returns how many tasks ran.
func (e *Engine) RunDeferred(ctx context.Context) (int, error) {
	now := e.Clock.Now()

	tasks, err := e.Deferred.ClaimDue(ctx, now, e.opts.DeferredBatch)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	var (
		merr      *multierror.Error
		exhausted []string
		seen      = make(map[string]bool)
	)

	for _, task := range tasks {
		if task.Kind != storage.TaskReconcileOwner {
			metrics.DeferredTasks.WithLabelValues(string(task.Kind), "unknown").Inc()
			e.logger.Warn().Str("task_id", task.ID).Str("kind", string(task.Kind)).Msg("Dropping deferred task of unknown kind")
			continue
		}
		// Several starts by one owner collapse into one reconcile
		if seen[task.OwnerID] {
			metrics.DeferredTasks.WithLabelValues(string(task.Kind), "merged").Inc()
			continue
		}
		seen[task.OwnerID] = true

		report, err := e.reconcileOwner(ctx, task.OwnerID, now)
		if err != nil {
			metrics.DeferredTasks.WithLabelValues(string(task.Kind), "failed").Inc()
			merr = multierror.Append(merr, fmt.Errorf("task %s: %w", task.ID, err))

			task.DueAt = now.Add(e.opts.DeferredRetry)
			if err := e.Deferred.Schedule(ctx, task); err != nil {
				e.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to reschedule deferred task")
			}
			continue
		}

		metrics.DeferredTasks.WithLabelValues(string(task.Kind), "done").Inc()
		if report.entry.Exhausted() {
			exhausted = append(exhausted, task.OwnerID)
		}
	}

	if len(exhausted) > 0 {
		if _, err := e.Reclaimer.Reclaim(ctx, exhausted); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	e.logger.Info().Int("tasks", len(tasks)).Int("exhausted", len(exhausted)).Msg("Deferred tasks run")
	return len(tasks), merr.ErrorOrNil()
}

// StopAtWindowEnd stops every running entity when the exclusion window of a
// working day closes. On other days it does nothing.
func (e *Engine) StopAtWindowEnd(ctx context.Context) (reclaim.Stats, error) {
	if !e.opts.WindowEndStop {
		return reclaim.Stats{}, nil
	}

	today := e.Calendar.Today(e.Clock.Now())
	if !e.Calendar.IsWorkingDay(today) {
		e.logger.Debug().Str("date", today.String()).Msg("Not a working day, skipping window-end stop")
		return reclaim.Stats{}, nil
	}

	return e.Reclaimer.StopAllRunning(ctx, e.opts.WindowEndMessage)
}
