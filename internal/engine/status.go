package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/quotakeeper/internal/metrics"
	"github.com/goodtune/quotakeeper/internal/resource"
)

// EntityStatus is an entity's observed state.
type EntityStatus struct {
	EntityID string         `json:"entity_id"`
	State    resource.State `json:"state"`
}

// OwnerStatus is an owner's quota state as of now.
type OwnerStatus struct {
	OwnerID   string         `json:"owner_id"`
	Remaining time.Duration  `json:"remaining"`
	Budget    time.Duration  `json:"budget"`
	Charged   time.Duration  `json:"charged"`
	ResetDate string         `json:"reset_date"`
	Exhausted bool           `json:"exhausted"`
	Entities  []EntityStatus `json:"entities,omitempty"`
}

// Status returns one owner's quota state. Observed entity states are
// included when describeState is set.
func (e *Engine) Status(ctx context.Context, ownerID string, describeState bool) (*OwnerStatus, error) {
	entry, err := e.Ledger.Entry(ctx, ownerID, e.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	status := &OwnerStatus{
		OwnerID:   ownerID,
		Remaining: entry.Remaining,
		Budget:    entry.Budget,
		Charged:   entry.Charged,
		ResetDate: entry.ResetDate,
		Exhausted: entry.Exhausted(),
	}

	entities, err := e.Ownership.EntitiesOf(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}
	if len(entities) == 0 {
		return status, nil
	}

	states := map[string]resource.State{}
	if describeState {
		states, err = e.Controller.DescribeState(ctx, entities)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExternalAPI, err)
		}
	}
	for _, id := range entities {
		state, ok := states[id]
		if !ok {
			state = resource.StateUnknown
		}
		status.Entities = append(status.Entities, EntityStatus{EntityID: id, State: state})
	}

	return status, nil
}

// Owners implements metrics.StatusProvider.
func (e *Engine) Owners(ctx context.Context) (interface{}, error) {
	owners, err := e.Ownership.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}
	sort.Strings(owners)

	out := make([]*OwnerStatus, 0, len(owners))
	for _, owner := range owners {
		status, err := e.Status(ctx, owner, false)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

// Owner implements metrics.StatusProvider.
func (e *Engine) Owner(ctx context.Context, ownerID string) (interface{}, error) {
	owners, err := e.Ownership.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalAPI, err)
	}

	known := false
	for _, o := range owners {
		if o == ownerID {
			known = true
			break
		}
	}
	if !known {
		return nil, metrics.ErrUnknownOwner
	}

	return e.Status(ctx, ownerID, true)
}

var _ metrics.StatusProvider = (*Engine)(nil)
