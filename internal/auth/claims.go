package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the only token shape this service issues. Refresh tokens carry
// the same identity as their access token: there is no user store to
// re-read roles from, so a refresh re-issues what the bootstrap grant
// established.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, AgentID: c.AgentID, Role: c.Role}
}
