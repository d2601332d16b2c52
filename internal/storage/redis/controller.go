package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/quotakeeper/internal/resource"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Controller is a resource.Controller backed by a command stream. An external
// agent that talks to the cloud provider consumes the stream and reports
// observed state back with ReportState.
type Controller struct {
	client *redis.Client
	keys   keyspace
	logger zerolog.Logger
}

// NewController creates a controller sharing the store's connection.
func NewController(s *Store, logger zerolog.Logger) *Controller {
	return &Controller{
		client: s.client,
		keys:   s.keys,
		logger: logger.With().Str("component", "redis-controller").Logger(),
	}
}

// DescribeState returns the last reported state of each entity
func (c *Controller) DescribeState(ctx context.Context, entityIDs []string) (map[string]resource.State, error) {
	states := make(map[string]resource.State, len(entityIDs))
	if len(entityIDs) == 0 {
		return states, nil
	}

	values, err := c.client.HMGet(ctx, c.keys.state(), entityIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to describe state: %w", err)
	}

	for i, id := range entityIDs {
		raw, ok := values[i].(string)
		if !ok {
			states[id] = resource.StateUnknown
			continue
		}
		state, err := resource.ParseState(raw)
		if err != nil {
			c.logger.Warn().Str("entity_id", id).Str("state", raw).Msg("Ignoring unrecognised reported state")
		}
		states[id] = state
	}

	return states, nil
}

// Start enqueues start commands
func (c *Controller) Start(ctx context.Context, entityIDs []string) error {
	return c.enqueue(ctx, "start", entityIDs)
}

// Stop enqueues stop commands
func (c *Controller) Stop(ctx context.Context, entityIDs []string) error {
	return c.enqueue(ctx, "stop", entityIDs)
}

func (c *Controller) enqueue(ctx context.Context, action string, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}

	requestedAt := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := c.client.TxPipeline()
	for _, id := range entityIDs {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: c.keys.commands(),
			Values: map[string]interface{}{
				"action":       action,
				"entity_id":    id,
				"requested_at": requestedAt,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue %s commands: %w", action, err)
	}

	c.logger.Info().Str("action", action).Strs("entity_ids", entityIDs).Msg("Enqueued resource commands")
	return nil
}

// ReportState records the observed state of an entity
func (c *Controller) ReportState(ctx context.Context, entityID string, state resource.State) error {
	return c.client.HSet(ctx, c.keys.state(), entityID, string(state)).Err()
}

var _ resource.Controller = (*Controller)(nil)
