package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/quotakeeper/internal/clock"
	"github.com/goodtune/quotakeeper/internal/metrics"
	"github.com/goodtune/quotakeeper/internal/policy/opa"
	"github.com/goodtune/quotakeeper/internal/resource"
	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/rs/zerolog"
)

// RemainingReader is the ledger read accessor the gate needs.
type RemainingReader interface {
	Remaining(ctx context.Context, ownerID string, now time.Time) (time.Duration, error)
}

// Evaluator decides a request from its facts.
type Evaluator interface {
	Evaluate(ctx context.Context, input map[string]interface{}) (*opa.Decision, error)
}

// Gate gathers the facts for a start or stop request and asks the
// evaluator for a decision. It holds no state of its own.
type Gate struct {
	ledger     RemainingReader
	ownership  storage.OwnershipDirectory
	controller resource.Controller
	evaluator  Evaluator
	clock      clock.Clock
	logger     zerolog.Logger
}

// NewGate creates a policy gate.
func NewGate(
	ledger RemainingReader,
	ownership storage.OwnershipDirectory,
	controller resource.Controller,
	evaluator Evaluator,
	clk clock.Clock,
	logger zerolog.Logger,
) *Gate {
	return &Gate{
		ledger:     ledger,
		ownership:  ownership,
		controller: controller,
		evaluator:  evaluator,
		clock:      clk,
		logger:     logger.With().Str("component", "policy-gate").Logger(),
	}
}

// CanStart decides whether requester may start entity: the requester must own
// it, it must be observed stopped and the owner must have budget left.
func (g *Gate) CanStart(ctx context.Context, requester, entityID string) (Decision, error) {
	return g.decide(ctx, ActionStart, requester, entityID)
}

// CanStop decides whether requester may stop entity. Budget is not consulted.
func (g *Gate) CanStop(ctx context.Context, requester, entityID string) (Decision, error) {
	return g.decide(ctx, ActionStop, requester, entityID)
}

func (g *Gate) decide(ctx context.Context, action Action, requester, entityID string) (Decision, error) {
	d := Decision{
		Action:    action,
		Requester: requester,
		EntityID:  entityID,
		State:     resource.StateUnknown,
	}

	owner, err := g.ownership.OwnerOf(ctx, entityID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return d, fmt.Errorf("failed to look up owner of %s: %w", entityID, err)
	}
	d.OwnerID = owner

	// The remaining facts only matter once ownership holds
	if owner != "" && owner == requester {
		states, err := g.controller.DescribeState(ctx, []string{entityID})
		if err != nil {
			return d, fmt.Errorf("failed to describe %s: %w", entityID, err)
		}
		if state, ok := states[entityID]; ok {
			d.State = state
		}

		if action == ActionStart {
			d.Remaining, err = g.ledger.Remaining(ctx, owner, g.clock.Now())
			if err != nil {
				return d, fmt.Errorf("failed to read remaining budget of %s: %w", owner, err)
			}
		}
	}

	result, err := g.evaluator.Evaluate(ctx, map[string]interface{}{
		"action":            string(action),
		"requester":         requester,
		"owner":             owner,
		"state":             string(d.State),
		"remaining_ms":      remainingMillis(d.Remaining),
	})
	if err != nil {
		return d, fmt.Errorf("failed to evaluate %s request: %w", action, err)
	}

	d.Allowed = result.Allow
	d.Reason = result.Reason

	metrics.PolicyDecisions.WithLabelValues(string(action), strconv.FormatBool(d.Allowed), d.Reason).Inc()
	g.logger.Debug().
		Str("action", string(action)).
		Str("requester", requester).
		Str("entity_id", entityID).
		Str("owner_id", owner).
		Str("state", string(d.State)).
		Dur("remaining", d.Remaining).
		Bool("allowed", d.Allowed).
		Str("reason", d.Reason).
		Msg("Policy decision")

	return d, nil
}

// remainingMillis rounds up so any positive budget stays positive.
func remainingMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}
