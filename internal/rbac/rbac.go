package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

const (
	ActionRead          Action = "read"
	ActionPropose       Action = "propose"
	ActionVote          Action = "vote"
	ActionCreateEvent   Action = "create_event"
	ActionInvite        Action = "invite"
	ActionManageMembers Action = "manage_members"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner, RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionPropose || action == ActionVote || action == ActionCreateEvent || action == ActionInvite
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin, RoleOwner:
		return Role(role)
	default:
		return RoleMember
	}
}
