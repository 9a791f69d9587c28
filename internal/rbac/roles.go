package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleAgent   = "agent" // loan officer, bound to an agent id
	RoleViewer  = "viewer"
	RoleService = "service" // hidden role for automation tokens
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleService }

// IsKnown reports whether role may be issued.
func IsKnown(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleAgent, RoleViewer, RoleService:
		return true
	}
	return false
}
