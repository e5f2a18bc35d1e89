package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ChatMessage is a single persisted message of a conversation.
// Rows are append-only: the relay reads and republishes them but never updates one.
type ChatMessage struct {
	// ID is a ULID assigned on create, so ids sort in creation order.
	ID string `gorm:"primaryKey;type:text" json:"id"`
	// ConversationID is the conversation (room) the message belongs to.
	ConversationID string `gorm:"type:text;not null;index:idx_conversation_created,priority:1" json:"conversationId"`
	// FromID is the authenticated subject (email) of the sender.
	FromID string `gorm:"type:text;not null" json:"fromId"`
	// FromRole is the authorities claim of the sender.
	FromRole string `gorm:"type:text" json:"fromRole"`
	// Text is the message body.
	Text string `gorm:"type:text;not null" json:"text"`
	// CreatedAt is assigned at write time and orders the history.
	CreatedAt time.Time `gorm:"not null;index:idx_conversation_created,priority:2" json:"createdAt"`
}

// TableName keeps the table name stable regardless of the struct name.
func (ChatMessage) TableName() string { return "chat_messages" }

// BeforeCreate is a GORM hook that assigns the id and write timestamp.
func (m *ChatMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return
}
