package chathub

import (
	"chatrelay/backend/internal/metrics"
	"chatrelay/backend/internal/models"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// ErrSlowConsumer closes a subscription whose backlog exceeded the room limit.
var ErrSlowConsumer = errors.New("subscriber fell too far behind")

// Registry owns one Room and one presence set per conversation id.
// Rooms are created on first use and kept for the life of the process.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	presence map[string]map[string]int // conversation -> user -> open connections

	maxPending int
	logger     zerolog.Logger
}

// NewRegistry creates a Registry whose subscribers may queue up to maxPending messages.
func NewRegistry(maxPending int, logger zerolog.Logger) *Registry {
	if maxPending <= 0 {
		maxPending = 4096
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		presence:   make(map[string]map[string]int),
		maxPending: maxPending,
		logger:     logger.With().Str("component", "registry").Logger(),
	}
}

// ChannelFor returns the room for conversationID, creating it atomically on first use.
func (r *Registry) ChannelFor(conversationID string) *Room {
	r.mu.RLock()
	room, ok := r.rooms[conversationID]
	r.mu.RUnlock()
	if ok {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.rooms[conversationID]; ok {
		return room
	}
	room = newRoom(conversationID, r.maxPending)
	r.rooms[conversationID] = room
	r.logger.Debug().Str("conversation_id", conversationID).Msg("room created")
	return room
}

// Publish queues msg on its conversation's room. Messages without a conversation
// id are ignored, as are conversations no local connection ever opened.
// Publish never blocks on subscribers.
func (r *Registry) Publish(msg models.ChatMessage) {
	if msg.ConversationID == "" {
		return
	}

	r.mu.RLock()
	room, ok := r.rooms[msg.ConversationID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	delivered := room.Publish(msg)
	metrics.RoomDeliveries.Add(float64(delivered))
}

// AllRoomIDs returns every conversation id with a room on this process, sorted.
func (r *Registry) AllRoomIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Room is the in-memory multicast channel of one conversation.
type Room struct {
	ID string

	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	maxPending int
}

func newRoom(id string, maxPending int) *Room {
	return &Room{
		ID:         id,
		subs:       make(map[*Subscription]struct{}),
		maxPending: maxPending,
	}
}

// Subscribe attaches a new subscriber. Only messages published afterwards are delivered.
func (rm *Room) Subscribe() *Subscription {
	sub := &Subscription{
		ready:      make(chan struct{}, 1),
		done:       make(chan struct{}),
		maxPending: rm.maxPending,
	}

	rm.mu.Lock()
	rm.subs[sub] = struct{}{}
	rm.mu.Unlock()
	return sub
}

// Unsubscribe detaches and closes sub. It is safe to call more than once.
func (rm *Room) Unsubscribe(sub *Subscription) {
	rm.mu.Lock()
	delete(rm.subs, sub)
	rm.mu.Unlock()

	sub.close(nil)
}

// Publish queues msg for every current subscriber and returns how many accepted it.
// Subscribers over their backlog limit are detached.
func (rm *Room) Publish(msg models.ChatMessage) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delivered := 0
	for sub := range rm.subs {
		if sub.push(msg) {
			delivered++
			continue
		}
		delete(rm.subs, sub)
	}
	return delivered
}

// Subscribers returns the number of attached subscribers.
func (rm *Room) Subscribers() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.subs)
}

// Subscription is one reader's view of a Room: an ordered queue that the
// publisher appends to without waiting for the reader.
type Subscription struct {
	mu         sync.Mutex
	queue      []models.ChatMessage
	maxPending int
	closed     bool
	err        error

	ready chan struct{}
	done  chan struct{}
}

// Ready signals that Drain has something to return.
func (s *Subscription) Ready() <-chan struct{} { return s.ready }

// Done is closed when the subscription ends; Err reports why.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns ErrSlowConsumer if the room dropped this subscriber, nil otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Drain returns the queued messages in publish order and empties the queue.
func (s *Subscription) Drain() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

func (s *Subscription) push(msg models.ChatMessage) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.maxPending {
		s.mu.Unlock()
		metrics.FramesDropped.WithLabelValues("slow_consumer").Inc()
		s.close(ErrSlowConsumer)
		return false
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}
