package auth

import (
	"net/http"
	"strings"
	"time"

	"call-lead-pipeline/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	bearerPrefix = "Bearer "
	// Browsers cannot set headers on WebSocket handshakes, so socket routes
	// accept the access token as a query parameter instead.
	queryAccessToken = "access_token"
)

// RequireAccessToken verifies the caller's access token and stores the
// Identity on the request context. Role checks live in internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		id := claims.Identity()
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		attrs := []any{"user_id", id.UserID, "role", id.Role}
		if id.AgentID != "" {
			attrs = append(attrs, "agent_id", id.AgentID)
		}
		logger.Annotate(c, attrs...)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	}
	if raw == "" && strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query(queryAccessToken)
	}
	return ""
}
