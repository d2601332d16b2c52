package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type deferredStore struct {
	client *redis.Client
	keys   keyspace
}

// Schedule persists a task scored by its due time
func (s *deferredStore) Schedule(ctx context.Context, task storage.DeferredTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}

	return s.client.ZAdd(ctx, s.keys.deferred(), redis.Z{
		Score:  float64(task.DueAt.UnixMilli()),
		Member: string(data),
	}).Err()
}

// ClaimDue removes and returns tasks due at or before now
func (s *deferredStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]storage.DeferredTask, error) {
	members, err := claimDue.Run(ctx, s.client, []string{s.keys.deferred()},
		strconv.FormatInt(now.UnixMilli(), 10), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim deferred tasks: %w", err)
	}

	tasks := make([]storage.DeferredTask, 0, len(members))
	for _, m := range members {
		var task storage.DeferredTask
		if err := json.Unmarshal([]byte(m), &task); err != nil {
			return nil, fmt.Errorf("failed to decode task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Pending counts tasks not yet claimed
func (s *deferredStore) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.keys.deferred()).Result()
}
