package models

import (
	"time"

	"github.com/lib/pq"
)

// Conversation is a two-party chat. The relay only reads Participants to
// authorize connections and bumps LastMessageID/LastActivity on append.
type Conversation struct {
	// ID is the conversation identifier (UUID), also the websocket room id.
	ID string `gorm:"primaryKey;type:text" json:"id"`
	// Participants holds the emails of both parties.
	Participants pq.StringArray `gorm:"type:text[];not null" json:"participants"`
	// LastMessageID points to the most recent message, if any.
	LastMessageID *string `gorm:"type:text" json:"lastMessageId,omitempty"`
	// LastActivity is the creation time of the most recent message.
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the conversation's parties.
func (c *Conversation) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant from userID's point of view.
func (c *Conversation) Peer(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}
