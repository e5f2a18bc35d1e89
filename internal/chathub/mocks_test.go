package chathub_test

import (
	"chatrelay/backend/internal/models"
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of chathub.MessageStore.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) GetHistory(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatMessage), args.Error(1)
}

// fakeFeed hands out scripted Stream results, one per subscription.
type fakeFeed struct {
	mu      sync.Mutex
	scripts []func(ctx context.Context, fn func(models.ChatMessage)) error
	calls   int
}

func (f *fakeFeed) Name() string { return "fake" }

func (f *fakeFeed) Stream(ctx context.Context, fn func(models.ChatMessage)) error {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if i < len(f.scripts) {
		return f.scripts[i](ctx, fn)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
