package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/redis/go-redis/v9"
)

type ledgerStore struct {
	client *redis.Client
	keys   keyspace
}

// GetRemaining retrieves an owner's ledger entry
func (s *ledgerStore) GetRemaining(ctx context.Context, ownerID string) (*storage.LedgerEntry, error) {
	data, err := s.client.HGetAll(ctx, s.keys.ledger(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	return parseLedgerEntry(ownerID, data)
}

// SetRemaining overwrites remaining budget; callers enforce bounds
func (s *ledgerStore) SetRemaining(ctx context.Context, ownerID string, remaining time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.ledger(ownerID), "remaining_ms", toMillis(remaining))
	pipe.SAdd(ctx, s.keys.owners(), ownerID)
	_, err := pipe.Exec(ctx)
	return err
}

// ResetAll resets every tracked owner for date
func (s *ledgerStore) ResetAll(ctx context.Context, date string, budget time.Duration) (int, error) {
	owners, err := s.client.SMembers(ctx, s.keys.owners()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list owners: %w", err)
	}

	count := 0
	for _, owner := range owners {
		changed, err := resetLedger.Run(ctx, s.client, []string{s.keys.ledger(owner)}, date, toMillis(budget)).Int()
		if err != nil {
			return count, fmt.Errorf("failed to reset ledger for %s: %w", owner, err)
		}
		count += changed
	}

	return count, nil
}

// ApplyCharge decrements remaining budget for date, clamped at zero
func (s *ledgerStore) ApplyCharge(ctx context.Context, ownerID, date string, budget, charge time.Duration) (time.Duration, error) {
	remaining, err := applyCharge.Run(ctx, s.client, []string{s.keys.ledger(ownerID)},
		date, toMillis(budget), toMillis(charge)).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to apply charge: %w", err)
	}
	if remaining < 0 {
		return 0, storage.ErrStaleDate
	}

	if err := s.client.SAdd(ctx, s.keys.owners(), ownerID).Err(); err != nil {
		return 0, fmt.Errorf("failed to track owner: %w", err)
	}
	return time.Duration(remaining) * time.Millisecond, nil
}

// ApplyUsage records the day's total usage for an owner
func (s *ledgerStore) ApplyUsage(ctx context.Context, ownerID, date string, budget, total time.Duration) (*storage.LedgerEntry, error) {
	reply, err := applyUsage.Run(ctx, s.client, []string{s.keys.ledger(ownerID)},
		date, toMillis(budget), toMillis(total)).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to apply usage: %w", err)
	}

	values := make([]int64, len(reply))
	for i, v := range reply {
		if values[i], err = toInt64(v); err != nil {
			return nil, err
		}
	}
	if len(values) == 1 && values[0] < 0 {
		return nil, storage.ErrStaleDate
	}
	if len(values) != 3 {
		return nil, errors.New("unexpected apply usage reply")
	}

	if err := s.client.SAdd(ctx, s.keys.owners(), ownerID).Err(); err != nil {
		return nil, fmt.Errorf("failed to track owner: %w", err)
	}

	return &storage.LedgerEntry{
		OwnerID:   ownerID,
		Remaining: time.Duration(values[0]) * time.Millisecond,
		Charged:   time.Duration(values[1]) * time.Millisecond,
		Budget:    time.Duration(values[2]) * time.Millisecond,
		ResetDate: date,
	}, nil
}

// List returns the ledger entries of every tracked owner
func (s *ledgerStore) List(ctx context.Context) ([]storage.LedgerEntry, error) {
	owners, err := s.client.SMembers(ctx, s.keys.owners()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(owners))
	for i, owner := range owners {
		cmds[i] = pipe.HGetAll(ctx, s.keys.ledger(owner))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	entries := make([]storage.LedgerEntry, 0, len(owners))
	for i, cmd := range cmds {
		entry, err := parseLedgerEntry(owners[i], cmd.Val())
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, nil
}
