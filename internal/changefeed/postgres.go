package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"chatrelay/backend/internal/models"
)

const listenerPing = 90 * time.Second

// Lookup loads a message by id.
type Lookup func(ctx context.Context, id string) (*models.ChatMessage, error)

// PGNotify is a Feed sourced from Postgres LISTEN/NOTIFY. The insert trigger
// sends the new message id; the row is then read back through lookup.
// NOTIFY is not replayed across disconnects, so this feed is at-most-once
// while the listener is reconnecting.
type PGNotify struct {
	dsn     string
	channel string
	lookup  Lookup
	minWait time.Duration
	maxWait time.Duration
	logger  zerolog.Logger
}

// NewPGNotify creates a LISTEN/NOTIFY feed on channel.
func NewPGNotify(dsn, channel string, lookup Lookup, minWait, maxWait time.Duration, logger zerolog.Logger) *PGNotify {
	return &PGNotify{
		dsn:     dsn,
		channel: channel,
		lookup:  lookup,
		minWait: minWait,
		maxWait: maxWait,
		logger:  logger.With().Str("component", "pg_feed").Logger(),
	}
}

func (f *PGNotify) Name() string { return "postgres:" + f.channel }

// Stream listens until ctx is cancelled. pq.Listener reconnects on its own
// between minWait and maxWait; only the initial LISTEN can fail.
func (f *PGNotify) Stream(ctx context.Context, fn func(models.ChatMessage)) error {
	listener := pq.NewListener(f.dsn, f.minWait, f.maxWait, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			f.logger.Error().Err(err).Msg("postgres listener disconnected")
		case pq.ListenerEventReconnected:
			f.logger.Info().Msg("postgres listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			f.logger.Error().Err(err).Msg("postgres listener reconnect failed")
		}
	})
	defer listener.Close()

	if err := listener.Listen(f.channel); err != nil {
		return fmt.Errorf("listen %s: %w", f.channel, err)
	}

	ticker := time.NewTicker(listenerPing)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-listener.Notify:
			if !ok {
				return fmt.Errorf("listener on %s closed", f.channel)
			}
			if n == nil {
				// Connection was re-established; notifications in between are lost.
				f.logger.Warn().Msg("postgres listener resumed, notifications may have been missed")
				continue
			}
			msg, err := f.lookup(ctx, n.Extra)
			if err != nil {
				f.logger.Error().Err(err).Str("message_id", n.Extra).Msg("failed to load notified message")
				continue
			}
			fn(*msg)

		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				f.logger.Warn().Err(err).Msg("postgres listener ping failed")
			}
		}
	}
}
