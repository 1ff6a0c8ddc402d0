package groups

// Role values stored in group_members.role. Exactly one owner row
// exists per group.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

type Group struct {
	GroupID   string
	Name      string
	OwnerID   string
	CreatedAt int64
}

type Member struct {
	GroupID  string
	UserID   string
	Role     string
	JoinedAt int64
}
