package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleSurveyor Role = "surveyor"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionExport Action = "export"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSurveyor:
		return action == ActionRead || action == ActionWrite || action == ActionExport
	case RoleViewer:
		return action == ActionRead || action == ActionExport
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleSurveyor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
