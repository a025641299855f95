package rbac

type Role string
type Action string

const (
	RoleParticipant Role = "participant"
	RoleResearcher  Role = "researcher"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "super_admin"
)

const (
	// ActionRead covers listing and viewing studies.
	ActionRead Action = "read"
	// ActionParticipate covers the study-session flow.
	ActionParticipate Action = "participate"
	// ActionWrite covers creating and editing studies, blocks, comments.
	ActionWrite Action = "write"
	// ActionAdmin covers payment processing, credit grants, role changes.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperAdmin, RoleAdmin:
		return true
	case RoleResearcher:
		return action == ActionRead || action == ActionParticipate || action == ActionWrite
	case RoleParticipant:
		return action == ActionRead || action == ActionParticipate
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleParticipant, RoleResearcher, RoleAdmin, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleParticipant
	}
}
