package changefeed

import (
	"context"

	"chatrelay/backend/internal/models"
)

// Memory is an in-process Feed for single-instance deployments and tests.
// Emit blocks when the buffer is full rather than dropping events.
type Memory struct {
	events chan models.ChatMessage
}

// NewMemory creates a feed buffering up to size undelivered events.
func NewMemory(size int) *Memory {
	return &Memory{events: make(chan models.ChatMessage, size)}
}

func (m *Memory) Name() string { return "memory" }

// Emit queues msg for the subscriber.
func (m *Memory) Emit(ctx context.Context, msg models.ChatMessage) error {
	select {
	case m.events <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stream delivers queued events until ctx is done.
func (m *Memory) Stream(ctx context.Context, fn func(models.ChatMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.events:
			fn(msg)
		}
	}
}
