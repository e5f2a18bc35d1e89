package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetPresence reports whether a user has a live connection on this instance.
func (h *Handler) GetPresence(c *gin.Context) {
	userID := c.Param("userId")
	rooms := h.Registry.RoomsOf(userID)
	if rooms == nil {
		rooms = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"online": len(rooms) > 0,
		"rooms":  rooms,
	})
}

// Health pings the store.
func (h *Handler) Health(c *gin.Context) {
	if err := h.Storage.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
