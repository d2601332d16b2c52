package storage

import "time"

// LedgerEntry is an owner's remaining budget for the day it was last reset.
type LedgerEntry struct {
	OwnerID   string        `json:"owner_id"`
	Remaining time.Duration `json:"remaining"`
	Budget    time.Duration `json:"budget"`
	// Charged is the day's usage already deducted from Remaining.
	Charged   time.Duration `json:"charged"`
	ResetDate string        `json:"reset_date"`
}

// Exhausted reports whether the owner has no budget left.
func (e LedgerEntry) Exhausted() bool {
	return e.Remaining <= 0
}

// TaskKind identifies what a deferred task does when it fires.
type TaskKind string

const (
	// TaskReconcileOwner re-runs accounting for one owner.
	TaskReconcileOwner TaskKind = "reconcile_owner"
)

// DeferredTask is a one-shot action that survives process restarts.
type DeferredTask struct {
	ID       string    `json:"id"`
	Kind     TaskKind  `json:"kind"`
	OwnerID  string    `json:"owner_id"`
	EntityID string    `json:"entity_id,omitempty"`
	DueAt    time.Time `json:"due_at"`
}
