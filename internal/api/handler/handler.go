package handler

import (
	"chatrelay/backend/internal/auth"
	"chatrelay/backend/internal/chathub"
	"chatrelay/backend/internal/storage"
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Options configures a Handler.
type Options struct {
	Storage  storage.Storage
	Registry *chathub.Registry
	Verifier auth.Verifier

	// AuthHeader and AuthCookie are the credential sources tried after Authorization.
	AuthHeader string
	AuthCookie string
	// AllowedOrigins limits websocket origins; empty allows any.
	AllowedOrigins []string

	// BaseContext bounds live connections; cancelling it closes them.
	BaseContext context.Context
	Logger      zerolog.Logger
}

// Handler holds the dependencies of the HTTP and websocket endpoints.
type Handler struct {
	Storage  storage.Storage
	Registry *chathub.Registry
	Verifier auth.Verifier

	authHeader string
	authCookie string
	upgrader   websocket.Upgrader
	baseCtx    context.Context
	logger     zerolog.Logger
}

func NewHandler(opts Options) *Handler {
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	h := &Handler{
		Storage:    opts.Storage,
		Registry:   opts.Registry,
		Verifier:   opts.Verifier,
		authHeader: opts.AuthHeader,
		authCookie: opts.AuthCookie,
		baseCtx:    baseCtx,
		logger:     opts.Logger.With().Str("component", "handler").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		_, ok := set[origin]
		return ok
	}
}
