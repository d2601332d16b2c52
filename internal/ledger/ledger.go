package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/quotakeeper/internal/calendar"
	"github.com/goodtune/quotakeeper/internal/metrics"
	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/rs/zerolog"
)

// Ledger keeps each owner's remaining budget within [0, today's budget].
// Remaining only ever increases through a reset.
type Ledger struct {
	store    storage.LedgerStore
	calendar *calendar.Calendar
	logger   zerolog.Logger
}

// New creates a ledger over store.
func New(store storage.LedgerStore, cal *calendar.Calendar, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:    store,
		calendar: cal,
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
}

// Reset sets every tracked owner to the budget of date. Owners already reset
// for date are left alone, so repeated calls never double-credit.
func (l *Ledger) Reset(ctx context.Context, date calendar.Date) (int, error) {
	budget := l.calendar.DailyBudget(date)

	n, err := l.store.ResetAll(ctx, date.String(), budget)
	if err != nil {
		return n, fmt.Errorf("failed to reset ledger for %s: %w", date, err)
	}

	metrics.LedgerResets.Add(float64(n))
	l.logger.Info().
		Str("date", date.String()).
		Dur("budget", budget).
		Int("owners_reset", n).
		Msg("Ledger reset")

	return n, nil
}

// ApplyCharge deducts charge from an owner's remaining budget for the day
// containing now, clamped at zero.
func (l *Ledger) ApplyCharge(ctx context.Context, ownerID string, charge time.Duration, now time.Time) (time.Duration, error) {
	if charge < 0 {
		return 0, fmt.Errorf("negative charge %s", charge)
	}
	today := l.calendar.Today(now)
	remaining, err := l.store.ApplyCharge(ctx, ownerID, today.String(), l.calendar.DailyBudget(today), charge)
	if err != nil {
		return 0, err
	}
	metrics.OwnerRemaining.WithLabelValues(ownerID).Set(remaining.Seconds())
	return remaining, nil
}

// ApplyUsage records an owner's total chargeable usage for date. Only usage
// not already deducted is charged, so re-applying the same total is a no-op.
func (l *Ledger) ApplyUsage(ctx context.Context, ownerID string, date calendar.Date, total time.Duration) (*storage.LedgerEntry, error) {
	entry, err := l.store.ApplyUsage(ctx, ownerID, date.String(), l.calendar.DailyBudget(date), total)
	if err != nil {
		return nil, err
	}

	metrics.OwnerRemaining.WithLabelValues(ownerID).Set(entry.Remaining.Seconds())
	metrics.OwnerCharged.WithLabelValues(ownerID).Set(entry.Charged.Seconds())

	if entry.Exhausted() {
		l.logger.Info().Str("owner_id", ownerID).Dur("charged", entry.Charged).Msg("Owner budget exhausted")
	}
	return entry, nil
}

// Entry returns an owner's ledger state as of now. An entry not yet reset
// today reads as a fresh day.
func (l *Ledger) Entry(ctx context.Context, ownerID string, now time.Time) (storage.LedgerEntry, error) {
	today := l.calendar.Today(now)
	budget := l.calendar.DailyBudget(today)

	entry, err := l.store.GetRemaining(ctx, ownerID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.LedgerEntry{OwnerID: ownerID, Remaining: budget, Budget: budget, ResetDate: today.String()}, nil
	}
	if err != nil {
		return storage.LedgerEntry{}, fmt.Errorf("failed to read ledger for %s: %w", ownerID, err)
	}
	if entry.ResetDate < today.String() {
		return storage.LedgerEntry{OwnerID: ownerID, Remaining: budget, Budget: budget, ResetDate: today.String()}, nil
	}

	entry.Remaining = clamp(entry.Remaining, budget)
	return *entry, nil
}

// Remaining returns an owner's remaining budget as of now.
func (l *Ledger) Remaining(ctx context.Context, ownerID string, now time.Time) (time.Duration, error) {
	entry, err := l.Entry(ctx, ownerID, now)
	if err != nil {
		return 0, err
	}
	return entry.Remaining, nil
}

// Set overrides an owner's remaining budget, clamped to today's bounds.
func (l *Ledger) Set(ctx context.Context, ownerID string, remaining time.Duration, now time.Time) error {
	today := l.calendar.Today(now)
	budget := l.calendar.DailyBudget(today)
	remaining = clamp(remaining, budget)

	// Make sure the entry belongs to today before overriding it
	if _, err := l.store.ApplyUsage(ctx, ownerID, today.String(), budget, 0); err != nil {
		return fmt.Errorf("failed to prepare ledger for %s: %w", ownerID, err)
	}
	if err := l.store.SetRemaining(ctx, ownerID, remaining); err != nil {
		return fmt.Errorf("failed to set remaining for %s: %w", ownerID, err)
	}
	l.logger.Info().Str("owner_id", ownerID).Dur("remaining", remaining).Msg("Remaining budget overridden")
	return nil
}

// List returns every tracked owner's entry as of now.
func (l *Ledger) List(ctx context.Context, now time.Time) ([]storage.LedgerEntry, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}

	today := l.calendar.Today(now)
	budget := l.calendar.DailyBudget(today)
	for i := range entries {
		if entries[i].ResetDate < today.String() {
			entries[i] = storage.LedgerEntry{OwnerID: entries[i].OwnerID, Remaining: budget, Budget: budget, ResetDate: today.String()}
			continue
		}
		entries[i].Remaining = clamp(entries[i].Remaining, budget)
	}
	return entries, nil
}

func clamp(d, budget time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > budget {
		return budget
	}
	return d
}
