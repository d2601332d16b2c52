package resource

import (
	"context"
	"fmt"
)

// State is an entity's externally observed lifecycle state.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateUnknown State = "unknown"
)

// ParseState converts a reported state string, mapping anything
// unrecognised to an error.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateRunning, StateStopped, StateUnknown:
		return State(s), nil
	default:
		return StateUnknown, fmt.Errorf("unknown resource state %q", s)
	}
}

// Controller observes and transitions remote compute entities. The engine
// never changes state directly; it only asks the controller.
type Controller interface {
	// DescribeState returns the observed state for each id. Ids the
	// controller knows nothing about map to StateUnknown.
	DescribeState(ctx context.Context, entityIDs []string) (map[string]State, error)
	Start(ctx context.Context, entityIDs []string) error
	Stop(ctx context.Context, entityIDs []string) error
}
