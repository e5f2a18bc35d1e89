package models

// CreateMessageRequest is the inbound frame a client sends to post a message.
// Only Text is taken from the client; identity fields are stamped server-side.
type CreateMessageRequest struct {
	Text     string `json:"text"`
	FromID   string `json:"fromId,omitempty"`
	FromRole string `json:"fromRole,omitempty"`
}

// Identity is the authenticated caller behind a token.
type Identity struct {
	// Subject is the email claim.
	Subject string
	// Role is the authorities claim.
	Role string
}

// NewMessage builds the message to persist, ignoring any identity the client supplied.
func (r CreateMessageRequest) NewMessage(conversationID string, id Identity) *ChatMessage {
	return &ChatMessage{
		ConversationID: conversationID,
		FromID:         id.Subject,
		FromRole:       id.Role,
		Text:           r.Text,
	}
}
