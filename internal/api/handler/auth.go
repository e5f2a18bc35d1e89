package handler

import (
	"chatrelay/backend/internal/models"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// extractToken finds the bearer credential, trying in order the Authorization
// header, the custom auth header and the access token cookie.
func (h *Handler) extractToken(r *http.Request) (string, bool) {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		if strings.HasPrefix(v, "Bearer ") {
			v = strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
		}
		if v != "" {
			return v, true
		}
	}

	if h.authHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(h.authHeader)); v != "" {
			return v, true
		}
	}

	if h.authCookie != "" {
		if c, err := r.Cookie(h.authCookie); err == nil && c.Value != "" {
			return c.Value, true
		}
	}

	return "", false
}

// RequireAuth authenticates REST calls with the same credential sources as the websocket.
func (h *Handler) RequireAuth(c *gin.Context) {
	token, ok := h.extractToken(c.Request)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return
	}

	id, err := h.Verifier.Verify(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	c.Set(identityKey, id)
	c.Next()
}

func identityFrom(c *gin.Context) models.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(models.Identity)
	return id
}
