package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/goodtune/quotakeeper/internal/usage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type eventStore struct {
	client *redis.Client
	keys   keyspace
}

// Append records an event in the entity's log and the audit stream
func (s *eventStore) Append(ctx context.Context, ev usage.Event) error {
	if ev.EntityID == "" {
		return fmt.Errorf("event has no entity id")
	}
	if _, err := usage.ParseKind(string(ev.Kind)); err != nil {
		return err
	}

	keys := []string{s.keys.events(ev.EntityID), s.keys.audit()}
	args := []interface{}{
		ev.Timestamp.UnixMilli(),
		eventMember(ev),
		uuid.NewString(),
		ev.EntityID,
		string(ev.Kind),
		ev.Timestamp.Format(time.RFC3339Nano),
		ev.Source,
	}

	added, err := appendEvent.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if added == 0 {
		return storage.ErrDuplicateEvent
	}
	return nil
}

// Query returns the entity's events within [from, to]
func (s *eventStore) Query(ctx context.Context, entityID string, from, to time.Time) ([]usage.Event, error) {
	// Scores are milliseconds; widen the range and filter precisely below
	members, err := s.client.ZRangeByScore(ctx, s.keys.events(entityID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli()-1, 10),
		Max: strconv.FormatInt(to.UnixMilli()+1, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events := make([]usage.Event, 0, len(members))
	for _, m := range members {
		ev, err := parseEventMember(entityID, m)
		if err != nil {
			return nil, err
		}
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		events = append(events, ev)
	}

	usage.SortEvents(events)
	return events, nil
}

// lastScanLimit bounds how many members sharing the boundary millisecond are
// inspected by Last
const lastScanLimit = 16

// Last returns the entity's latest event before the given instant
func (s *eventStore) Last(ctx context.Context, entityID string, before time.Time) (usage.Event, error) {
	members, err := s.client.ZRevRangeByScore(ctx, s.keys.events(entityID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.UnixMilli(), 10),
		Count: lastScanLimit,
	}).Result()
	if err != nil {
		return usage.Event{}, fmt.Errorf("failed to query last event: %w", err)
	}

	var (
		last  usage.Event
		found bool
	)
	for _, m := range members {
		ev, err := parseEventMember(entityID, m)
		if err != nil {
			return usage.Event{}, err
		}
		if !ev.Timestamp.Before(before) {
			continue
		}
		if !found || later(ev, last) {
			last, found = ev, true
		}
	}

	if !found {
		return usage.Event{}, storage.ErrNotFound
	}
	return last, nil
}

// later reports whether a sorts after b in event order
func later(a, b usage.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Kind == usage.KindStart && b.Kind == usage.KindStop
}
