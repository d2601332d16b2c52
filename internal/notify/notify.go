package notify

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Notifier delivers a message to an owner. Delivery is best-effort; callers
// log failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, ownerID, message string) error
}

// Log writes notifications to the log.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a notifier that only logs.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notifier").Logger()}
}

// Notify logs the message.
func (l *Log) Notify(_ context.Context, ownerID, message string) error {
	l.logger.Info().Str("owner_id", ownerID).Str("message", message).Msg("Owner notified")
	return nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify calls every notifier and collects their errors.
func (m Multi) Notify(ctx context.Context, ownerID, message string) error {
	var merr *multierror.Error
	for _, n := range m {
		if err := n.Notify(ctx, ownerID, message); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
