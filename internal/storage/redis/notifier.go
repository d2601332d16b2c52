package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/quotakeeper/internal/notify"
	"github.com/redis/go-redis/v9"
)

// recentNotifications bounds the history list kept next to the channel.
const recentNotifications = 200

type notification struct {
	OwnerID string    `json:"owner_id"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Notifier publishes owner notifications for the chat front end to deliver.
type Notifier struct {
	client *redis.Client
	keys   keyspace
}

// NewNotifier creates a notifier sharing the store's connection.
func NewNotifier(s *Store) *Notifier {
	return &Notifier{client: s.client, keys: s.keys}
}

// Notify publishes the message and appends it to the recent history
func (n *Notifier) Notify(ctx context.Context, ownerID, message string) error {
	data, err := json.Marshal(notification{OwnerID: ownerID, Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	pipe := n.client.TxPipeline()
	pipe.Publish(ctx, n.keys.notifications(), data)
	pipe.LPush(ctx, n.keys.recentNotices(), data)
	pipe.LTrim(ctx, n.keys.recentNotices(), 0, recentNotifications-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

var _ notify.Notifier = (*Notifier)(nil)
