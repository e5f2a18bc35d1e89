package handler_test

import (
	"chatrelay/backend/internal/models"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/conversations", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListConversations(t *testing.T) {
	env := newTestEnv(t)
	last := "m9"
	env.store.On("ListConversationsForUser", mock.Anything, "a@x.com").Return([]models.Conversation{
		{ID: "c1", Participants: pq.StringArray{"a@x.com", "b@x.com"}, LastMessageID: &last},
	}, nil)
	env.registry.PresenceAdd("c1", "b@x.com")

	w := env.do(t, http.MethodGet, "/conversations", env.token(t, "a@x.com"), "")

	require.Equal(t, http.StatusOK, w.Code)
	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0]["id"])
	assert.Equal(t, "b@x.com", got[0]["participant"])
	assert.Equal(t, true, got[0]["online"])
	assert.Equal(t, "m9", got[0]["lastMessageId"])
}

func TestListConversations_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.On("ListConversationsForUser", mock.Anything, "a@x.com").Return(nil, errors.New("db down"))

	w := env.do(t, http.MethodGet, "/conversations", env.token(t, "a@x.com"), "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateConversation(t *testing.T) {
	env := newTestEnv(t)
	env.store.On("GetOrCreateConversation", mock.Anything, "a@x.com", "b@x.com").Return(&models.Conversation{
		ID:           "c1",
		Participants: pq.StringArray{"a@x.com", "b@x.com"},
	}, nil)
	tok := env.token(t, "a@x.com")

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"created", `{"participantEmail":"b@x.com"}`, http.StatusOK},
		{"missing email", `{}`, http.StatusBadRequest},
		{"not an email", `{"participantEmail":"bob"}`, http.StatusBadRequest},
		{"self", `{"participantEmail":"a@x.com"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/conversations", tok, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
	env.store.AssertNumberOfCalls(t, "GetOrCreateConversation", 1)
}

func TestGetMessages(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		user     string
		conv     string
		wantCode int
	}{
		{"participant", "a@x.com", "c1", http.StatusOK},
		{"outsider", "mallory@x.com", "c1", http.StatusForbidden},
		{"unknown conversation", "a@x.com", "nope", http.StatusNotFound},
		{"lookup failure", "a@x.com", "broken", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/conversations/"+tt.conv+"/messages", env.token(t, tt.user), "")
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.JSONEq(t, `[]`, w.Body.String())
			}
		})
	}
}

func TestSendMessage_StampsCallerAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	sub := env.registry.ChannelFor("c1").Subscribe()

	w := env.do(t, http.MethodPost, "/conversations/c1/messages", env.token(t, "b@x.com"),
		`{"text":"hello","fromId":"a@x.com"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "b@x.com", msg.FromID)
	assert.Equal(t, "hello", msg.Text)
	assert.NotEmpty(t, msg.ID)

	select {
	case <-sub.Ready():
		live := sub.Drain()
		require.Len(t, live, 1)
		assert.Equal(t, msg.ID, live[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not fanned out")
	}
}

func TestSendMessage_Rejected(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/conversations/c1/messages", env.token(t, "mallory@x.com"), `{"text":"hi"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/conversations/c1/messages", env.token(t, "a@x.com"), `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.store.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything)
}

func TestGetPresence(t *testing.T) {
	env := newTestEnv(t)
	env.registry.ChannelFor("c1")
	env.registry.PresenceAdd("c1", "b@x.com")
	tok := env.token(t, "a@x.com")

	w := env.do(t, http.MethodGet, "/presence/b@x.com", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"b@x.com","online":true,"rooms":["c1"]}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/presence/z@x.com", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"z@x.com","online":false,"rooms":[]}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.store.On("Ping", mock.Anything).Return(nil).Once()
	env.store.On("Ping", mock.Anything).Return(errors.New("db down")).Once()

	w := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
