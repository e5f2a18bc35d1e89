package chathub

import (
	"chatrelay/backend/internal/metrics"
	"chatrelay/backend/internal/models"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Close codes sent to clients. BadData and NotAcceptable are the codes the
// authorization step uses; PolicyViolation tells a lagging client to reconnect.
const (
	CloseBadData         = websocket.CloseInvalidFramePayloadData // 1007
	CloseNotAcceptable   = websocket.CloseUnsupportedData         // 1003
	ClosePolicyViolation = websocket.ClosePolicyViolation         // 1008
	CloseInternalError   = websocket.CloseInternalServerErr       // 1011
)

// placeholderFrame replaces a message that could not be encoded.
var placeholderFrame = []byte("{}")

// encodeMessage is swapped in tests.
var encodeMessage = func(msg models.ChatMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// MessageStore is what a live connection needs from the message store.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	GetHistory(ctx context.Context, conversationID string) ([]models.ChatMessage, error)
}

// WebSocketClient is one authorized connection streaming a conversation.
type WebSocketClient struct {
	ConversationID string
	Identity       models.Identity
	Conn           *websocket.Conn
	Registry       *Registry
	Storage        MessageStore

	logger zerolog.Logger
}

// NewWebSocketClient wraps an upgraded, already authorized connection.
func NewWebSocketClient(conn *websocket.Conn, conversationID string, id models.Identity, registry *Registry, store MessageStore, logger zerolog.Logger) *WebSocketClient {
	return &WebSocketClient{
		ConversationID: conversationID,
		Identity:       id,
		Conn:           conn,
		Registry:       registry,
		Storage:        store,
		logger: logger.With().
			Str("conversation_id", conversationID).
			Str("user", id.Subject).
			Logger(),
	}
}

// Run streams history followed by live room messages and persists inbound frames.
// It blocks until the transport closes or ctx is cancelled, and releases presence,
// the room subscription and the socket on every exit path.
func (c *WebSocketClient) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.Conn.Close()

	c.Registry.PresenceAdd(c.ConversationID, c.Identity.Subject)
	defer c.Registry.PresenceRemove(c.ConversationID, c.Identity.Subject)

	// Subscribe before reading history so nothing written in between is missed;
	// the write pump skips live copies of messages already sent as history.
	room := c.Registry.ChannelFor(c.ConversationID)
	sub := room.Subscribe()
	defer room.Unsubscribe(sub)

	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()
	c.logger.Info().Msg("connection streaming")

	history, err := c.Storage.GetHistory(ctx, c.ConversationID)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to load history, streaming live messages only")
		history = nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writePump(ctx, history, sub)
	}()

	c.readPump(ctx)
	cancel()
	c.Conn.Close()
	wg.Wait()

	c.logger.Info().Msg("connection closed")
}

func (c *WebSocketClient) readPump(ctx context.Context) {
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn().Err(err).Msg("error reading message")
			}
			return
		}

		var req models.CreateMessageRequest
		if err := json.Unmarshal(message, &req); err != nil {
			metrics.FramesDropped.WithLabelValues("decode").Inc()
			c.logger.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		if strings.TrimSpace(req.Text) == "" {
			metrics.FramesDropped.WithLabelValues("decode").Inc()
			c.logger.Warn().Msg("dropping frame without text")
			continue
		}

		msg := req.NewMessage(c.ConversationID, c.Identity)
		if err := c.Storage.AppendMessage(ctx, msg); err != nil {
			metrics.FramesDropped.WithLabelValues("persist").Inc()
			c.logger.Error().Err(err).Msg("failed to persist message, dropping it")
			continue
		}
	}
}

func (c *WebSocketClient) writePump(ctx context.Context, history []models.ChatMessage, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	sent := make(map[string]struct{}, len(history))
	for _, msg := range history {
		sent[msg.ID] = struct{}{}
		if err := c.writeMessage(msg); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-sub.Ready():
			for _, msg := range sub.Drain() {
				if _, dup := sent[msg.ID]; dup {
					delete(sent, msg.ID)
					continue
				}
				if err := c.writeMessage(msg); err != nil {
					return
				}
			}

		case <-sub.Done():
			if err := sub.Err(); err != nil {
				c.logger.Warn().Err(err).Msg("closing lagging connection")
				c.closeWith(ClosePolicyViolation, "slow consumer")
			}
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage sends one message frame. An encoding failure sends a placeholder
// so the rest of the stream still flows; only transport errors are returned.
func (c *WebSocketClient) writeMessage(msg models.ChatMessage) error {
	data, err := encodeMessage(msg)
	if err != nil {
		metrics.FramesDropped.WithLabelValues("encode").Inc()
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("failed to encode message, sending placeholder")
		data = placeholderFrame
	}

	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WebSocketClient) closeWith(code int, reason string) {
	CloseConnection(c.Conn, code, reason)
}

// CloseConnection sends a close frame with code and reason, then closes conn.
func CloseConnection(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
