package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"oltchat/internal/shared"
)

// bcryptCost matches the work factor the accounts were created with.
const bcryptCost = 12

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a new account. Returns shared.ErrorAlreadyExists if
// the user id is taken. The stored hash is salted per call by bcrypt.
func (s *Service) Register(ctx context.Context, userID, nickname, password string) (*User, error) {

	exists, err := s.repo.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error checking user: %w", err)
	}
	if exists {
		return nil, shared.ErrorAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &User{
		UserID:       userID,
		Nickname:     nickname,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().Unix(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return user, nil
}

// Login verifies credentials and returns the account identity.
// Returns shared.ErrorNotFound for an unknown user id and
// shared.ErrorPasswordMismatch for a wrong password.
func (s *Service) Login(ctx context.Context, userID, password string) (*User, error) {

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrorNotFound) {
			return nil, shared.ErrorNotFound
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrorPasswordMismatch
	}

	return user, nil
}

// Exists reports whether the user id is registered. Backend failures
// are returned as errors, distinct from "not found".
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	return s.repo.Exists(ctx, userID)
}
