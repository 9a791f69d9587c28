package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the verified caller of a dashboard request.
type Identity struct {
	UserID string `json:"user_id"`
	// AgentID binds a loan officer to their own calls; empty for staff.
	AgentID string `json:"agent_id,omitempty"`
	Role    string `json:"role"`
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity RequireAccessToken stored.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

func UserID(ctx context.Context) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", ErrNoIdentity
	}
	return id.UserID, nil
}

func Role(ctx context.Context) (string, error) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.Role == "" {
		return "", ErrNoIdentity
	}
	return id.Role, nil
}

// AgentID returns the agent the caller is bound to, or "".
func AgentID(ctx context.Context) string {
	id, _ := IdentityFrom(ctx)
	return id.AgentID
}
