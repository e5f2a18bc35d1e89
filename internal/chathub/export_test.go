package chathub

import "chatrelay/backend/internal/models"

// SetEncodeMessage replaces the outbound encoder and returns a restore func.
func SetEncodeMessage(fn func(models.ChatMessage) ([]byte, error)) (restore func()) {
	prev := encodeMessage
	encodeMessage = fn
	return func() { encodeMessage = prev }
}
