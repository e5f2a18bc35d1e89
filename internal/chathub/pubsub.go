package chathub

import (
	"chatrelay/backend/internal/changefeed"
	"chatrelay/backend/internal/metrics"
	"chatrelay/backend/internal/models"
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// FeedListener republishes change feed events into the local Registry.
// One runs per process; it is the only path by which a connection sees new messages.
type FeedListener struct {
	Feed     changefeed.Feed
	Registry *Registry

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	logger zerolog.Logger
	lastID string
}

// NewFeedListener creates a listener with the given resubscription backoff bounds.
func NewFeedListener(feed changefeed.Feed, registry *Registry, initial, maxWait time.Duration, logger zerolog.Logger) *FeedListener {
	return &FeedListener{
		Feed:           feed,
		Registry:       registry,
		InitialBackoff: initial,
		MaxBackoff:     maxWait,
		logger:         logger.With().Str("component", "feed_listener").Str("feed", feed.Name()).Logger(),
	}
}

// Run subscribes to the feed and resubscribes with exponential backoff whenever
// the subscription fails. It returns only when ctx is cancelled.
func (l *FeedListener) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	if l.InitialBackoff > 0 {
		b.InitialInterval = l.InitialBackoff
	}
	if l.MaxBackoff > 0 {
		b.MaxInterval = l.MaxBackoff
	}

	l.logger.Info().Msg("change feed listener started")
	for {
		received := false
		err := l.Feed.Stream(ctx, func(msg models.ChatMessage) {
			if !received {
				received = true
				b.Reset()
			}
			l.handle(msg)
		})
		if ctx.Err() != nil {
			l.logger.Info().Msg("change feed listener stopped")
			return
		}

		wait := b.NextBackOff()
		metrics.FeedRestarts.Inc()
		l.logger.Error().Err(err).Dur("retry_in", wait).Msg("change feed subscription ended, realtime fan-out paused")

		select {
		case <-ctx.Done():
			l.logger.Info().Msg("change feed listener stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (l *FeedListener) handle(msg models.ChatMessage) {
	if msg.ConversationID == "" {
		metrics.FeedEvents.WithLabelValues("malformed").Inc()
		l.logger.Debug().Str("message_id", msg.ID).Msg("dropping feed event without conversation id")
		return
	}
	if msg.ID != "" && msg.ID == l.lastID {
		metrics.FeedEvents.WithLabelValues("duplicate").Inc()
		return
	}
	l.lastID = msg.ID

	l.Registry.Publish(msg)
	metrics.FeedEvents.WithLabelValues("published").Inc()
}
