package storage

import (
	"chatrelay/backend/internal/metrics"
	"chatrelay/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrConversationNotFound is returned when a conversation id is unknown.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound is returned when a message id is unknown.
	ErrMessageNotFound = errors.New("message not found")
)

type Storage interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	GetHistory(ctx context.Context, conversationID string) ([]models.ChatMessage, error)
	FindMessage(ctx context.Context, id string) (*models.ChatMessage, error)

	FindConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)

	Ping(ctx context.Context) error
}

// Emitter pushes a freshly persisted message onto a change feed.
// Feeds that are sourced from the database itself (LISTEN/NOTIFY) need none.
type Emitter interface {
	Emit(ctx context.Context, msg models.ChatMessage) error
}

// Emit retry bounds. Each attempt gets its own timeout; attempts stop once
// EmitMaxElapsed has passed since the first one.
const (
	defaultEmitInitialInterval = 100 * time.Millisecond
	defaultEmitMaxElapsed      = 10 * time.Second
	emitAttemptTimeout         = 3 * time.Second
)

type Service struct {
	DB      *gorm.DB
	Emitter Emitter
	Logger  zerolog.Logger

	EmitInitialInterval time.Duration
	EmitMaxElapsed      time.Duration
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, emitter Emitter, logger zerolog.Logger) *Service {
	return &Service{
		DB:                  db,
		Emitter:             emitter,
		Logger:              logger.With().Str("component", "storage").Logger(),
		EmitInitialInterval: defaultEmitInitialInterval,
		EmitMaxElapsed:      defaultEmitMaxElapsed,
	}
}

// AppendMessage persists msg, filling ID and CreatedAt, then bumps the conversation
// and hands the row to the change feed.
func (s *Service) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		s.Logger.Error().Err(err).Str("conversation_id", msg.ConversationID).Msg("failed to save message")
		return fmt.Errorf("save message: %w", err)
	}
	metrics.MessagesPersisted.Inc()

	// The message is already durable; a stale conversation summary is not worth failing for.
	if err := s.touchConversation(ctx, msg); err != nil {
		s.Logger.Warn().Err(err).Str("conversation_id", msg.ConversationID).Msg("failed to update conversation activity")
	}

	if s.Emitter != nil {
		if err := s.emit(ctx, *msg); err != nil {
			s.Logger.Error().Err(err).
				Str("conversation_id", msg.ConversationID).
				Str("message_id", msg.ID).
				Msg("message persisted but not emitted to change feed")
		}
	}
	return nil
}

// emit hands msg to the change feed, retrying with exponential backoff.
// Cancelling ctx does not stop it; the row is already committed.
func (s *Service) emit(ctx context.Context, msg models.ChatMessage) error {
	ctx = context.WithoutCancel(ctx)

	b := backoff.NewExponentialBackOff()
	if s.EmitInitialInterval > 0 {
		b.InitialInterval = s.EmitInitialInterval
	}
	maxElapsed := s.EmitMaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = defaultEmitMaxElapsed
	}

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, emitAttemptTimeout)
		defer cancel()
		return struct{}{}, s.Emitter.Emit(attemptCtx, msg)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(maxElapsed))
	if err != nil {
		metrics.FeedEmitFailures.Inc()
		return fmt.Errorf("emit after %d attempts: %w", attempts, err)
	}
	if attempts > 1 {
		s.Logger.Warn().Str("message_id", msg.ID).Int("attempts", attempts).Msg("change feed emit recovered")
	}
	return nil
}

// GetHistory returns every message of a conversation, oldest first.
func (s *Service) GetHistory(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	var history []models.ChatMessage
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").Order("id asc").
		Find(&history).Error
	if err != nil {
		s.Logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to get chat history")
		return nil, err
	}
	return history, nil
}

// FindMessage returns one message by id.
func (s *Service) FindMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindConversation returns ErrConversationNotFound for unknown ids.
func (s *Service) FindConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		s.Logger.Error().Err(err).Str("conversation_id", id).Msg("failed to get conversation")
		return nil, err
	}
	return &conv, nil
}

// ListConversationsForUser returns the user's conversations, most recently active first.
func (s *Service) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.DB.WithContext(ctx).
		Where("? = ANY(participants)", userID).
		Order("last_activity desc").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// GetOrCreateConversation returns the conversation between two users, creating it if needed.
func (s *Service) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, errors.New("a conversation needs two distinct participants")
	}

	participants := pq.StringArray{userA, userB}

	var conv models.Conversation
	err := s.DB.WithContext(ctx).
		Where("participants @> ? AND cardinality(participants) = 2", participants).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = models.Conversation{
		ID:           uuid.New().String(),
		Participants: participants,
		LastActivity: time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.Logger.Info().Str("conversation_id", conv.ID).Msg("conversation created")
	return &conv, nil
}

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Service) touchConversation(ctx context.Context, msg *models.ChatMessage) error {
	return s.DB.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", msg.ConversationID).
		Updates(map[string]interface{}{
			"last_message_id": msg.ID,
			"last_activity":   msg.CreatedAt,
		}).Error
}
