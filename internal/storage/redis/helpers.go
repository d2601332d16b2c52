package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/goodtune/quotakeeper/internal/usage"
)

// eventMember encodes the identity of an event as a sorted-set member.
// Two events with the same entity, kind and instant share a member.
func eventMember(ev usage.Event) string {
	return fmt.Sprintf("%d:%s", ev.Timestamp.UnixNano(), ev.Kind)
}

// parseEventMember decodes a member written by eventMember
func parseEventMember(entityID, member string) (usage.Event, error) {
	nanos, kind, ok := strings.Cut(member, ":")
	if !ok {
		return usage.Event{}, fmt.Errorf("malformed event member %q", member)
	}

	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return usage.Event{}, fmt.Errorf("failed to parse event timestamp: %w", err)
	}

	k, err := usage.ParseKind(kind)
	if err != nil {
		return usage.Event{}, err
	}

	return usage.Event{
		EntityID:  entityID,
		Kind:      k,
		Timestamp: time.Unix(0, n),
	}, nil
}

// parseLedgerEntry converts a Redis hash to LedgerEntry
func parseLedgerEntry(ownerID string, data map[string]string) (*storage.LedgerEntry, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	remaining, err := parseMillis(data, "remaining_ms")
	if err != nil {
		return nil, err
	}

	budget, err := parseMillis(data, "budget_ms")
	if err != nil {
		return nil, err
	}

	charged, err := parseMillis(data, "charged_ms")
	if err != nil {
		return nil, err
	}

	return &storage.LedgerEntry{
		OwnerID:   ownerID,
		Remaining: remaining,
		Budget:    budget,
		Charged:   charged,
		ResetDate: data["reset_date"],
	}, nil
}

// parseMillis reads an optional millisecond field as a duration
func parseMillis(data map[string]string, field string) (time.Duration, error) {
	raw, ok := data[field]
	if !ok || raw == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func toMillis(d time.Duration) int64 {
	return d.Milliseconds()
}

// toInt64 unpacks an integer element of a script reply
func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected script reply element %T", v)
	}
}
