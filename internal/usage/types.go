package usage

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the lifecycle transition an event records.
type Kind string

const (
	KindStart Kind = "start"
	KindStop  Kind = "stop"
)

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindStart, KindStop:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// Event sources.
const (
	SourceUser      = "user"
	SourceReclaimer = "reclaimer"
	SourceWindowEnd = "window-end"
	SourceMidnight  = "midnight"
)

// Event is one append-only lifecycle record for an entity.
type Event struct {
	EntityID  string    `json:"entity_id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Session is a derived [Start, End) interval of an entity's running time.
type Session struct {
	EntityID string
	Start    time.Time
	End      time.Time
	Open     bool
	Charge   time.Duration
}

// ErrInvalidEventSequence marks events that were dropped during accounting.
var ErrInvalidEventSequence = errors.New("usage: invalid event sequence")

// Reasons an event is dropped.
const (
	ReasonFutureTimestamp = "future_timestamp"
	ReasonStrayStop       = "stray_stop"
	ReasonUnknownKind     = "unknown_kind"
	ReasonWrongEntity     = "wrong_entity"
)

// InvalidEvent is an event the accountant ignored.
type InvalidEvent struct {
	Event  Event
	Reason string
}

func (e InvalidEvent) Error() string {
	return fmt.Sprintf("%s event for %s at %s: %s",
		e.Event.Kind, e.Event.EntityID, e.Event.Timestamp.Format(time.RFC3339), e.Reason)
}

func (e InvalidEvent) Unwrap() error {
	return ErrInvalidEventSequence
}

// Result is the accountant's output for one entity.
type Result struct {
	EntityID string
	Charge   time.Duration
	Sessions []Session
	Invalid  []InvalidEvent
	// Absorbed counts duplicate starts seen while a session was already open.
	Absorbed int
}
