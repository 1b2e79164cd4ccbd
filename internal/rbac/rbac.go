package rbac

import "strings"

// Role is the global role stored on users.role.
type Role string

// MemberRole is the per-organization role stored on user_organizations.role.
type MemberRole string

type Action string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

const (
	MemberAdmin   MemberRole = "admin"
	MemberManager MemberRole = "manager"
	MemberMember  MemberRole = "member"
	MemberViewer  MemberRole = "viewer"
)

const (
	ActionRead         Action = "read"
	ActionWrite        Action = "write"
	ActionManagePasswd Action = "manage_passwords"
	ActionAdminPanel   Action = "admin_panel"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return action != ActionAdminPanel
	case RoleUser:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

// Normalize maps the spellings found in users.role onto the three global roles.
// Unknown values are treated as user.
func Normalize(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "super_admin", "superadmin", "super-admin":
		return RoleSuperAdmin
	case "admin", "manager":
		return RoleAdmin
	default:
		return RoleUser
	}
}

func NormalizeMember(role string) (MemberRole, bool) {
	switch MemberRole(strings.ToLower(strings.TrimSpace(role))) {
	case MemberAdmin:
		return MemberAdmin, true
	case MemberManager:
		return MemberManager, true
	case MemberMember, "":
		return MemberMember, true
	case MemberViewer:
		return MemberViewer, true
	default:
		return "", false
	}
}

// CanManageOrg reports whether an organization member role may change the
// organization's sidebar, documents and settings.
func CanManageOrg(role MemberRole) bool {
	return role == MemberAdmin || role == MemberManager
}
