package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleMember     = "member"
	RoleObserver   = "observer" // read-only: may watch session state and suggestions
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanControlCalls reports whether role may create, join, end or toggle a call.
func CanControlCalls(role string) bool {
	switch role {
	case RoleOwner, RoleMember, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
