package handler

import (
	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/storage"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ConversationView is a conversation as seen by one of its participants.
type ConversationView struct {
	ID            string    `json:"id"`
	Participant   string    `json:"participant"`
	Online        bool      `json:"online"`
	LastMessageID *string   `json:"lastMessageId,omitempty"`
	LastActivity  time.Time `json:"lastActivity"`
}

type createConversationRequest struct {
	ParticipantEmail string `json:"participantEmail" binding:"required,email"`
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) view(conv *models.Conversation, caller string) ConversationView {
	peer := conv.Peer(caller)
	return ConversationView{
		ID:            conv.ID,
		Participant:   peer,
		Online:        h.Registry.IsOnline(peer),
		LastMessageID: conv.LastMessageID,
		LastActivity:  conv.LastActivity,
	}
}

// ListConversations returns the caller's conversations.
func (h *Handler) ListConversations(c *gin.Context) {
	id := identityFrom(c)

	convs, err := h.Storage.ListConversationsForUser(c.Request.Context(), id.Subject)
	if err != nil {
		h.logger.Error().Err(err).Str("user", id.Subject).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}

	out := make([]ConversationView, 0, len(convs))
	for i := range convs {
		out = append(out, h.view(&convs[i], id.Subject))
	}
	c.JSON(http.StatusOK, out)
}

// CreateConversation returns the caller's conversation with participantEmail, creating it if needed.
func (h *Handler) CreateConversation(c *gin.Context) {
	id := identityFrom(c)

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ParticipantEmail == id.Subject {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot start a conversation with yourself"})
		return
	}

	conv, err := h.Storage.GetOrCreateConversation(c.Request.Context(), id.Subject, req.ParticipantEmail)
	if err != nil {
		h.logger.Error().Err(err).Str("user", id.Subject).Msg("failed to create conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create conversation"})
		return
	}
	c.JSON(http.StatusOK, h.view(conv, id.Subject))
}

// GetMessages returns a conversation's history to one of its participants.
func (h *Handler) GetMessages(c *gin.Context) {
	conv, ok := h.participantConversation(c)
	if !ok {
		return
	}

	history, err := h.Storage.GetHistory(c.Request.Context(), conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	if history == nil {
		history = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, history)
}

// SendMessage appends a message over HTTP. Live sockets receive it through the change feed.
func (h *Handler) SendMessage(c *gin.Context) {
	conv, ok := h.participantConversation(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := models.CreateMessageRequest{Text: req.Text}.NewMessage(conv.ID, identityFrom(c))
	if err := h.Storage.AppendMessage(c.Request.Context(), msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) participantConversation(c *gin.Context) (*models.Conversation, bool) {
	id := identityFrom(c)

	conv, err := h.Storage.FindConversation(c.Request.Context(), c.Param("conversationId"))
	if errors.Is(err, storage.ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return nil, false
	}
	if !conv.HasParticipant(id.Subject) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant"})
		return nil, false
	}
	return conv, true
}
