// Package reclaim force-stops entities whose owners have run out of budget.
package reclaim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goodtune/quotakeeper/internal/clock"
	"github.com/goodtune/quotakeeper/internal/metrics"
	"github.com/goodtune/quotakeeper/internal/notify"
	"github.com/goodtune/quotakeeper/internal/resource"
	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/goodtune/quotakeeper/internal/usage"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMessage is sent to owners whose budget ran out.
	DefaultMessage = "Today's usage time has expired. Your instances are being stopped automatically."
	// DefaultWindowEndMessage is sent when the exclusion window closes.
	DefaultWindowEndMessage = "The free usage period has ended. Your instances are being stopped automatically."
)

// LedgerLister lists every tracked owner's ledger entry as of now.
type LedgerLister interface {
	List(ctx context.Context, now time.Time) ([]storage.LedgerEntry, error)
}

// Options tunes a Reclaimer.
type Options struct {
	// Concurrency bounds how many owners are processed at once.
	Concurrency int
	// StopRetries is how many times a failed stop is retried within one sweep.
	StopRetries int
	// RetryInterval is the first backoff interval between retries.
	RetryInterval time.Duration
	Message       string
}

// Stats summarises one sweep.
type Stats struct {
	OwnersExhausted int `json:"owners_exhausted"`
	OwnersAffected  int `json:"owners_affected"`
	OwnersSkipped   int `json:"owners_skipped"`
	EntitiesStopped int `json:"entities_stopped"`
	StopFailures    int `json:"stop_failures"`
	Notifications   int `json:"notifications"`
}

func (s *Stats) add(o Stats) {
	s.OwnersExhausted += o.OwnersExhausted
	s.OwnersAffected += o.OwnersAffected
	s.OwnersSkipped += o.OwnersSkipped
	s.EntitiesStopped += o.EntitiesStopped
	s.StopFailures += o.StopFailures
	s.Notifications += o.Notifications
}

// Reclaimer stops running entities of owners at zero remaining budget. It
// never changes the ledger; it only issues stops, records them as events and
// tells the owner.
type Reclaimer struct {
	ledger     LedgerLister
	ownership  storage.OwnershipDirectory
	controller resource.Controller
	events     storage.EventStore
	notifier   notify.Notifier
	clock      clock.Clock
	opts       Options
	logger     zerolog.Logger
}

// New creates a reclaimer.
func New(
	ledger LedgerLister,
	ownership storage.OwnershipDirectory,
	controller resource.Controller,
	events storage.EventStore,
	notifier notify.Notifier,
	clk clock.Clock,
	opts Options,
	logger zerolog.Logger,
) *Reclaimer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if opts.StopRetries < 0 {
		opts.StopRetries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.Message == "" {
		opts.Message = DefaultMessage
	}

	return &Reclaimer{
		ledger:     ledger,
		ownership:  ownership,
		controller: controller,
		events:     events,
		notifier:   notifier,
		clock:      clk,
		opts:       opts,
		logger:     logger.With().Str("component", "reclaimer").Logger(),
	}
}

// Sweep stops every running entity of every exhausted owner. A failure on
// one entity or owner is recorded and the sweep carries on.
func (r *Reclaimer) Sweep(ctx context.Context) (Stats, error) {
	entries, err := r.ledger.List(ctx, r.clock.Now())
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list ledger: %w", err)
	}

	var owners []string
	for _, entry := range entries {
		if entry.Exhausted() {
			owners = append(owners, entry.OwnerID)
		}
	}

	stats, err := r.run(ctx, owners, usage.SourceReclaimer, r.opts.Message)
	stats.OwnersExhausted = len(owners)

	r.logger.Info().
		Int("owners_exhausted", stats.OwnersExhausted).
		Int("entities_stopped", stats.EntitiesStopped).
		Int("stop_failures", stats.StopFailures).
		Msg("Reclaim sweep complete")

	return stats, err
}

// Reclaim stops the running entities of owners the caller already found
// exhausted, without re-reading the ledger.
func (r *Reclaimer) Reclaim(ctx context.Context, owners []string) (Stats, error) {
	stats, err := r.run(ctx, owners, usage.SourceReclaimer, r.opts.Message)
	stats.OwnersExhausted = len(owners)
	return stats, err
}

// StopAllRunning stops every running entity of every tracked owner, whatever
// their remaining budget.
func (r *Reclaimer) StopAllRunning(ctx context.Context, message string) (Stats, error) {
	owners, err := r.ownership.Owners(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list owners: %w", err)
	}
	if message == "" {
		message = DefaultWindowEndMessage
	}

	stats, err := r.run(ctx, owners, usage.SourceWindowEnd, message)

	r.logger.Info().
		Int("owners", len(owners)).
		Int("entities_stopped", stats.EntitiesStopped).
		Int("stop_failures", stats.StopFailures).
		Msg("Window-end stop complete")

	return stats, err
}

func (r *Reclaimer) run(ctx context.Context, owners []string, source, message string) (Stats, error) {
	var (
		mu    sync.Mutex
		total Stats
		merr  *multierror.Error
	)

	// Goroutines never return errors so one owner cannot cancel another
	eg := errgroup.Group{}
	eg.SetLimit(r.opts.Concurrency)

	for _, owner := range owners {
		eg.Go(func() error {
			stats, err := r.reclaimOwner(ctx, owner, source, message)

			mu.Lock()
			defer mu.Unlock()
			total.add(stats)
			if err != nil {
				merr = multierror.Append(merr, err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	return total, merr.ErrorOrNil()
}

func (r *Reclaimer) reclaimOwner(ctx context.Context, ownerID, source, message string) (Stats, error) {
	var stats Stats
	log := r.logger.With().Str("owner_id", ownerID).Str("trigger", source).Logger()

	entities, err := r.ownership.EntitiesOf(ctx, ownerID)
	if err != nil {
		stats.OwnersSkipped++
		metrics.OwnersSkipped.WithLabelValues("ownership").Inc()
		log.Warn().Err(err).Msg("Skipping owner: failed to list entities")
		return stats, fmt.Errorf("owner %s: failed to list entities: %w", ownerID, err)
	}
	if len(entities) == 0 {
		return stats, nil
	}

	var states map[string]resource.State
	err = r.retry(ctx, func() error {
		var err error
		states, err = r.controller.DescribeState(ctx, entities)
		return err
	})
	if err != nil {
		stats.OwnersSkipped++
		metrics.OwnersSkipped.WithLabelValues("describe_state").Inc()
		log.Warn().Err(err).Msg("Skipping owner: failed to describe entities")
		return stats, fmt.Errorf("owner %s: failed to describe entities: %w", ownerID, err)
	}

	var merr *multierror.Error
	for _, entityID := range entities {
		if states[entityID] != resource.StateRunning {
			continue
		}

		if err := r.stopEntity(ctx, entityID, source); err != nil {
			stats.StopFailures++
			metrics.StopFailures.Inc()
			log.Error().Err(err).Str("entity_id", entityID).Msg("Failed to stop entity")
			merr = multierror.Append(merr, fmt.Errorf("entity %s: %w", entityID, err))
			continue
		}

		stats.EntitiesStopped++
		metrics.EntitiesStopped.WithLabelValues(source).Inc()
		log.Info().Str("entity_id", entityID).Msg("Entity stopped")
	}

	if stats.EntitiesStopped > 0 {
		stats.OwnersAffected++
		if err := r.notifier.Notify(ctx, ownerID, message); err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			log.Warn().Err(err).Msg("Failed to notify owner")
		} else {
			stats.Notifications++
			metrics.Notifications.WithLabelValues("sent").Inc()
		}
	}

	return stats, merr.ErrorOrNil()
}

// stopEntity stops one entity and records the stop in the event log
func (r *Reclaimer) stopEntity(ctx context.Context, entityID, source string) error {
	err := r.retry(ctx, func() error {
		return r.controller.Stop(ctx, []string{entityID})
	})
	if err != nil {
		return fmt.Errorf("stop failed: %w", err)
	}

	event := usage.Event{
		EntityID:  entityID,
		Kind:      usage.KindStop,
		Timestamp: r.clock.Now(),
		Source:    source,
	}
	switch err := r.events.Append(ctx, event); {
	case errors.Is(err, storage.ErrDuplicateEvent):
		metrics.EventsRecorded.WithLabelValues(string(usage.KindStop), "duplicate").Inc()
	case err != nil:
		return fmt.Errorf("stopped but failed to record stop event: %w", err)
	default:
		metrics.EventsRecorded.WithLabelValues(string(usage.KindStop), "appended").Inc()
	}

	return nil
}

func (r *Reclaimer) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.RetryInterval
	eb.MaxElapsedTime = 0
	bkoff := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.opts.StopRetries)), ctx)
	return backoff.Retry(op, bkoff)
}
