package api

import (
	"chatrelay/backend/internal/api/handler"
	"chatrelay/backend/internal/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter wires every endpoint onto a gin engine.
func NewRouter(h *handler.Handler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger.With().Str("component", "http").Logger()))

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Websocket authorization happens after the upgrade so rejections carry a close reason.
	r.GET("/ws/chat/:conversationId", h.ServeWebSocket)

	authed := r.Group("/", h.RequireAuth)
	authed.GET("/conversations", h.ListConversations)
	authed.POST("/conversations", h.CreateConversation)
	authed.GET("/conversations/:conversationId/messages", h.GetMessages)
	authed.POST("/conversations/:conversationId/messages", h.SendMessage)
	authed.GET("/presence/:userId", h.GetPresence)

	return r
}
