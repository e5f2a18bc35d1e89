package changefeed

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/backend/internal/models"
)

func TestMemory_DeliversInOrder(t *testing.T) {
	feed := NewMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, feed.Emit(ctx, models.ChatMessage{ID: id, ConversationID: "c1"}))
	}

	got := make(chan string, 3)
	done := make(chan error, 1)
	go func() {
		done <- feed.Stream(ctx, func(m models.ChatMessage) { got <- m.ID })
	}()

	for _, want := range []string{"m1", "m2", "m3"} {
		select {
		case id := <-got:
			assert.Equal(t, want, id)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Stream did not return after cancel")
	}
}

func TestMemory_EmitRespectsContext(t *testing.T) {
	feed := NewMemory(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := feed.Emit(ctx, models.ChatMessage{ID: "m1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeEntry(t *testing.T) {
	ok := redis.XMessage{ID: "1-0", Values: map[string]interface{}{
		streamField: `{"id":"m1","conversationId":"c1","fromId":"a@x.com","text":"hi","createdAt":"2024-05-01T10:00:00Z"}`,
	}}
	msg, decoded := decodeEntry(ok)
	require.True(t, decoded)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "c1", msg.ConversationID)

	_, decoded = decodeEntry(redis.XMessage{ID: "2-0", Values: map[string]interface{}{streamField: "{broken"}})
	assert.False(t, decoded)

	_, decoded = decodeEntry(redis.XMessage{ID: "3-0", Values: map[string]interface{}{"other": "x"}})
	assert.False(t, decoded)
}
