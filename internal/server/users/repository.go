package users

import (
	"context"
)

type Repository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, userID string) (*User, error)
	Exists(ctx context.Context, userID string) (bool, error)
}
