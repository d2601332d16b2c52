package storage

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/quotakeeper/internal/usage"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrDuplicateEvent is returned when an identical event was already appended.
var ErrDuplicateEvent = errors.New("storage: duplicate event")

// ErrStaleDate is returned when a ledger update names a day older than the
// one the entry was last reset for.
var ErrStaleDate = errors.New("storage: ledger already reset for a later date")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Events() EventStore
	Ledger() LedgerStore
	Ownership() OwnershipStore
	Deferred() DeferredStore
}

// EventStore is the append-only usage event log.
type EventStore interface {
	// Append records an event. Exact duplicates return ErrDuplicateEvent.
	Append(ctx context.Context, event usage.Event) error
	// Query returns the entity's events in [from, to], ordered by timestamp.
	Query(ctx context.Context, entityID string, from, to time.Time) ([]usage.Event, error)
	// Last returns the entity's latest event strictly before before, or
	// ErrNotFound. At equal timestamps a Start counts as later than a Stop.
	Last(ctx context.Context, entityID string, before time.Time) (usage.Event, error)
}

// LedgerStore persists per-owner remaining budget. Every mutation is atomic
// per owner.
type LedgerStore interface {
	GetRemaining(ctx context.Context, ownerID string) (*LedgerEntry, error)
	SetRemaining(ctx context.Context, ownerID string, remaining time.Duration) error
	// ResetAll resets every tracked owner not yet reset for date and returns
	// how many entries changed.
	ResetAll(ctx context.Context, date string, budget time.Duration) (int, error)
	// ApplyCharge decrements remaining by charge, clamped at zero. An entry
	// from an earlier date is reset to budget first.
	ApplyCharge(ctx context.Context, ownerID, date string, budget, charge time.Duration) (time.Duration, error)
	// ApplyUsage charges the part of total not yet charged for date, resetting
	// the entry to budget first when it was last reset on an earlier day.
	ApplyUsage(ctx context.Context, ownerID, date string, budget, total time.Duration) (*LedgerEntry, error)
	List(ctx context.Context) ([]LedgerEntry, error)
}

// OwnershipDirectory maps entities to owners.
type OwnershipDirectory interface {
	OwnerOf(ctx context.Context, entityID string) (string, error)
	EntitiesOf(ctx context.Context, ownerID string) ([]string, error)
	Owners(ctx context.Context) ([]string, error)
}

// OwnershipStore is an OwnershipDirectory that can be edited.
type OwnershipStore interface {
	OwnershipDirectory
	Assign(ctx context.Context, entityID, ownerID string) error
	Release(ctx context.Context, entityID string) error
}

// DeferredStore holds one-shot tasks with a persisted due time.
type DeferredStore interface {
	Schedule(ctx context.Context, task DeferredTask) error
	// ClaimDue atomically removes and returns up to limit tasks due at or before now.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]DeferredTask, error)
	Pending(ctx context.Context) (int64, error)
}
