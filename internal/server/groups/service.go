package groups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"oltchat/internal/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create makes a new group with the creator as owner and returns it.
func (s *Service) Create(ctx context.Context, name, ownerID string) (*Group, error) {
	group := &Group{
		GroupID:   shared.NewHexID(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: time.Now().Unix(),
	}

	if err := s.repo.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("error creating group: %w", err)
	}

	return group, nil
}

// Join adds the user as a plain member. Fails with shared.ErrorNotFound
// for an unknown group and shared.ErrorAlreadyExists for a repeat join.
func (s *Service) Join(ctx context.Context, groupID, userID string) error {
	if _, err := s.repo.Get(ctx, groupID); err != nil {
		return err
	}

	_, err := s.repo.GetRole(ctx, groupID, userID)
	if err == nil {
		return shared.ErrorAlreadyExists
	}
	if !errors.Is(err, shared.ErrorNotInGroup) {
		return err
	}

	return s.repo.AddMember(ctx, &Member{
		GroupID:  groupID,
		UserID:   userID,
		Role:     RoleMember,
		JoinedAt: time.Now().Unix(),
	})
}

// Leave removes the user's member row. The owner cannot leave; they
// must dissolve the group instead.
func (s *Service) Leave(ctx context.Context, groupID, userID string) error {
	role, err := s.repo.GetRole(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if role == RoleOwner {
		return shared.ErrorOwnerCannotLeave
	}

	return s.repo.RemoveMember(ctx, groupID, userID)
}

// Rename updates the group name. Allowed for owner and admins.
func (s *Service) Rename(ctx context.Context, groupID, actorID, name string) error {
	if err := s.requireOwnerOrAdmin(ctx, groupID, actorID); err != nil {
		return err
	}
	return s.repo.Rename(ctx, groupID, name)
}

// Kick removes the target's member row. The owner may kick anyone but
// themselves; an admin may only kick plain members.
func (s *Service) Kick(ctx context.Context, groupID, actorID, targetID string) error {
	actorRole, err := s.repo.GetRole(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if actorRole != RoleOwner && actorRole != RoleAdmin {
		return shared.ErrorPermissionDenied
	}

	targetRole, err := s.repo.GetRole(ctx, groupID, targetID)
	if err != nil {
		return err
	}
	if targetRole == RoleOwner {
		return shared.ErrorPermissionDenied
	}
	if actorRole == RoleAdmin && targetRole == RoleAdmin {
		return shared.ErrorPermissionDenied
	}

	return s.repo.RemoveMember(ctx, groupID, targetID)
}

// Dissolve deletes the group and everything linked to it. Owner only.
func (s *Service) Dissolve(ctx context.Context, groupID, actorID string) error {
	role, err := s.repo.GetRole(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if role != RoleOwner {
		return shared.ErrorPermissionDenied
	}

	return s.repo.Dissolve(ctx, groupID)
}

// SetAdmin flips the target's role between admin and member. Owner
// only; the owner's own role is immutable.
func (s *Service) SetAdmin(ctx context.Context, groupID, actorID, targetID string, promote bool) error {
	actorRole, err := s.repo.GetRole(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if actorRole != RoleOwner {
		return shared.ErrorPermissionDenied
	}

	targetRole, err := s.repo.GetRole(ctx, groupID, targetID)
	if err != nil {
		return err
	}
	if targetRole == RoleOwner {
		return shared.ErrorPermissionDenied
	}

	role := RoleMember
	if promote {
		role = RoleAdmin
	}
	return s.repo.SetRole(ctx, groupID, targetID, role)
}

// Role returns the user's role or shared.ErrorNotInGroup.
func (s *Service) Role(ctx context.Context, groupID, userID string) (string, error) {
	return s.repo.GetRole(ctx, groupID, userID)
}

// Members lists the group's member rows.
func (s *Service) Members(ctx context.Context, groupID string) ([]Member, error) {
	return s.repo.Members(ctx, groupID)
}

func (s *Service) requireOwnerOrAdmin(ctx context.Context, groupID, userID string) error {
	role, err := s.repo.GetRole(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if role != RoleOwner && role != RoleAdmin {
		return shared.ErrorPermissionDenied
	}
	return nil
}
