package rbac

type Role string
type Action string

const (
	RoleViewer         Role = "viewer"
	RolePlanner        Role = "planner"
	RoleReleaseManager Role = "release_manager"
	RoleAdmin          Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionPlan    Action = "plan"
	ActionRelease Action = "release"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReleaseManager:
		return action == ActionRead || action == ActionPlan || action == ActionRelease
	case RolePlanner:
		return action == ActionRead || action == ActionPlan
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RolePlanner, RoleReleaseManager, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
