package handler

import (
	"chatrelay/backend/internal/chathub"
	"chatrelay/backend/internal/metrics"
	"chatrelay/backend/internal/storage"
	"errors"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Close reasons sent when a connection is rejected during authorization.
const (
	ReasonNoCredential         = "no credential"
	ReasonInvalidCredential    = "invalid credential"
	ReasonConversationNotFound = "conversation not found"
	ReasonNotParticipant       = "not a participant"
	ReasonInternal             = "internal error"
)

// ServeWebSocket upgrades the request, authorizes the caller for the conversation
// named by the last path segment, then streams it until either side closes.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	conversationID := path.Base(c.Request.URL.Path)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	log := h.logger.With().Str("conversation_id", conversationID).Logger()

	conv, err := h.Storage.FindConversation(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) {
			h.reject(conn, chathub.CloseNotAcceptable, ReasonConversationNotFound)
			return
		}
		log.Error().Err(err).Msg("conversation lookup failed")
		h.reject(conn, chathub.CloseInternalError, ReasonInternal)
		return
	}

	token, ok := h.extractToken(c.Request)
	if !ok {
		h.reject(conn, chathub.CloseBadData, ReasonNoCredential)
		return
	}

	id, err := h.Verifier.Verify(token)
	if err != nil {
		log.Info().Err(err).Msg("rejecting connection with invalid credential")
		h.reject(conn, chathub.CloseBadData, ReasonInvalidCredential)
		return
	}

	if !conv.HasParticipant(id.Subject) {
		log.Info().Str("user", id.Subject).Msg("rejecting non-participant")
		h.reject(conn, chathub.CloseNotAcceptable, ReasonNotParticipant)
		return
	}

	client := chathub.NewWebSocketClient(conn, conversationID, id, h.Registry, h.Storage, h.logger)
	client.Run(h.baseCtx)
}

func (h *Handler) reject(conn *websocket.Conn, code int, reason string) {
	metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	chathub.CloseConnection(conn, code, reason)
}
