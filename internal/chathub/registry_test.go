package chathub_test

import (
	"chatrelay/backend/internal/chathub"
	"chatrelay/backend/internal/models"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(maxPending int) *chathub.Registry {
	return chathub.NewRegistry(maxPending, zerolog.Nop())
}

// receive waits for the next batch on sub.
func receive(t *testing.T, sub *chathub.Subscription) []models.ChatMessage {
	t.Helper()
	select {
	case <-sub.Ready():
		return sub.Drain()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription")
		return nil
	}
}

func TestRegistry_ChannelForIsIdempotent(t *testing.T) {
	reg := newTestRegistry(16)

	a := reg.ChannelFor("c1")
	b := reg.ChannelFor("c1")
	other := reg.ChannelFor("c2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
}

// TestRegistry_ChannelForConcurrentFirstAccess races many goroutines on an unseen id.
func TestRegistry_ChannelForConcurrentFirstAccess(t *testing.T) {
	reg := newTestRegistry(16)

	const workers = 64
	rooms := make([]*chathub.Room, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			rooms[i] = reg.ChannelFor("race")
		}(i)
	}
	close(start)
	wg.Wait()

	for _, r := range rooms {
		assert.Same(t, rooms[0], r)
	}
	assert.Equal(t, []string{"race"}, reg.AllRoomIDs())
}

func TestRegistry_PublishReachesEverySubscriber(t *testing.T) {
	reg := newTestRegistry(16)
	subA := reg.ChannelFor("c1").Subscribe()
	subB := reg.ChannelFor("c1").Subscribe()
	outsider := reg.ChannelFor("c2").Subscribe()

	reg.Publish(models.ChatMessage{ID: "m1", ConversationID: "c1", Text: "hi"})

	assert.Equal(t, "m1", receive(t, subA)[0].ID)
	assert.Equal(t, "m1", receive(t, subB)[0].ID)
	assert.Empty(t, outsider.Drain())
}

func TestRegistry_PublishKeepsOrder(t *testing.T) {
	reg := newTestRegistry(1024)
	sub := reg.ChannelFor("c1").Subscribe()

	for i := 0; i < 100; i++ {
		reg.Publish(models.ChatMessage{ID: fmt.Sprintf("m%03d", i), ConversationID: "c1"})
	}

	var got []string
	for len(got) < 100 {
		for _, m := range receive(t, sub) {
			got = append(got, m.ID)
		}
	}
	for i, id := range got {
		assert.Equal(t, fmt.Sprintf("m%03d", i), id)
	}
}

func TestRegistry_PublishWithoutConversationIsNoop(t *testing.T) {
	reg := newTestRegistry(16)
	sub := reg.ChannelFor("c1").Subscribe()

	reg.Publish(models.ChatMessage{ID: "m1"})

	assert.Empty(t, sub.Drain())
	select {
	case <-sub.Ready():
		t.Fatal("unexpected delivery")
	default:
	}
}

func TestRegistry_PublishToUnseenRoomDoesNotCreateIt(t *testing.T) {
	reg := newTestRegistry(16)

	reg.Publish(models.ChatMessage{ID: "m1", ConversationID: "ghost"})

	assert.Empty(t, reg.AllRoomIDs())
}

// TestRoom_PublishNeverBlocksOnIdleReader checks that a reader that never drains
// does not stall the publisher or other readers.
func TestRoom_PublishNeverBlocksOnIdleReader(t *testing.T) {
	reg := newTestRegistry(10_000)
	room := reg.ChannelFor("c1")
	_ = room.Subscribe() // never drained
	active := room.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			reg.Publish(models.ChatMessage{ID: fmt.Sprintf("m%d", i), ConversationID: "c1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked")
	}
	assert.Len(t, active.Drain(), 5000)
}

func TestRoom_SlowConsumerIsDetached(t *testing.T) {
	reg := newTestRegistry(3)
	room := reg.ChannelFor("c1")
	slow := room.Subscribe()
	fast := room.Subscribe()

	for i := 0; i < 4; i++ {
		reg.Publish(models.ChatMessage{ID: fmt.Sprintf("m%d", i), ConversationID: "c1"})
		if i < 3 {
			require.Len(t, fast.Drain(), 1)
		}
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not closed")
	}
	assert.ErrorIs(t, slow.Err(), chathub.ErrSlowConsumer)
	assert.Equal(t, 1, room.Subscribers())
	assert.Len(t, fast.Drain(), 1)
}

func TestRoom_UnsubscribeStopsDelivery(t *testing.T) {
	reg := newTestRegistry(16)
	room := reg.ChannelFor("c1")
	sub := room.Subscribe()

	room.Unsubscribe(sub)
	room.Unsubscribe(sub)
	reg.Publish(models.ChatMessage{ID: "m1", ConversationID: "c1"})

	assert.Empty(t, sub.Drain())
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, room.Subscribers())
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done should be closed after Unsubscribe")
	}
}

func TestRegistry_Presence(t *testing.T) {
	reg := newTestRegistry(16)
	reg.ChannelFor("c1")
	reg.ChannelFor("c2")

	assert.Empty(t, reg.PresenceOf("c1"))
	assert.Empty(t, reg.PresenceOf("never-seen"))

	reg.PresenceAdd("c1", "b@x.com")
	reg.PresenceAdd("c1", "a@x.com")
	reg.PresenceAdd("c2", "a@x.com")

	assert.Equal(t, []string{"a@x.com", "b@x.com"}, reg.PresenceOf("c1"))
	assert.Equal(t, []string{"c1", "c2"}, reg.RoomsOf("a@x.com"))
	assert.True(t, reg.IsOnline("b@x.com"))

	reg.PresenceRemove("c1", "b@x.com")
	assert.Equal(t, []string{"a@x.com"}, reg.PresenceOf("c1"))
	assert.False(t, reg.IsOnline("b@x.com"))
}

// TestRegistry_PresenceCountsConnections covers a user with two tabs open.
func TestRegistry_PresenceCountsConnections(t *testing.T) {
	reg := newTestRegistry(16)
	reg.ChannelFor("c1")

	reg.PresenceAdd("c1", "a@x.com")
	reg.PresenceAdd("c1", "a@x.com")
	reg.PresenceRemove("c1", "a@x.com")
	assert.Equal(t, []string{"a@x.com"}, reg.PresenceOf("c1"))

	reg.PresenceRemove("c1", "a@x.com")
	assert.Empty(t, reg.PresenceOf("c1"))

	reg.PresenceRemove("c1", "a@x.com")
	assert.Empty(t, reg.PresenceOf("c1"))
}
