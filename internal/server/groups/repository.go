package groups

import (
	"context"
)

type Repository interface {
	// Create inserts the group row and the owner's member row in one
	// transaction.
	Create(ctx context.Context, group *Group) error
	Get(ctx context.Context, groupID string) (*Group, error)
	Rename(ctx context.Context, groupID, name string) error

	AddMember(ctx context.Context, m *Member) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	// GetRole returns shared.ErrorNotInGroup when no member row exists,
	// distinct from backend failures.
	GetRole(ctx context.Context, groupID, userID string) (string, error)
	SetRole(ctx context.Context, groupID, userID, role string) error
	Members(ctx context.Context, groupID string) ([]Member, error)

	// Dissolve removes the group's message targets, messages, member
	// rows and the group row in one transaction.
	Dissolve(ctx context.Context, groupID string) error
}
