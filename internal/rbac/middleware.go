package rbac

import (
	"net/http"

	"call-lead-pipeline/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAgentBinding rejects agent-role tokens that name no agent; without
// one the caller's call scope is undefined.
func RequireAgentBinding() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := auth.IdentityFrom(c.Request.Context())
		if id.Role == RoleAgent && id.AgentID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "agent_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole admits callers holding one of allowed. Admin is always
// admitted; the hidden service role only when listed.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	set := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		set[r] = true
	}
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		switch {
		case err != nil:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
		case IsAdmin(role) || set[role]:
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		}
	}
}

// AgentScope returns the agent id the caller's call access is limited to,
// or "" when the caller may see every call.
func AgentScope(c *gin.Context) string {
	id, _ := auth.IdentityFrom(c.Request.Context())
	if id.Role != RoleAgent {
		return ""
	}
	return id.AgentID
}

// CanSee reports whether the caller may read a call owned by agentID.
func CanSee(c *gin.Context, agentID string) bool {
	scope := AgentScope(c)
	return scope == "" || scope == agentID
}
