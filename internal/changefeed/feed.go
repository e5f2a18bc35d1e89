// Package changefeed carries "message appended" events from the message store to
// every relay instance. A Feed must deliver events at least once and in append
// order per conversation; the chathub listener dedupes redeliveries.
package changefeed

import (
	"context"

	"chatrelay/backend/internal/models"
)

// Feed is a live stream of appended messages.
type Feed interface {
	// Stream blocks, calling fn for every event in order, until ctx is cancelled
	// or the subscription fails. A returned error means the caller may resubscribe.
	Stream(ctx context.Context, fn func(models.ChatMessage)) error
	// Name identifies the feed in logs.
	Name() string
}
