package groups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"oltchat/internal/dbx"
	"oltchat/internal/shared"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, group *Group) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO groups (group_id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`,
			group.GroupID, group.Name, group.OwnerID, group.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert group: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
			group.GroupID, group.OwnerID, RoleOwner, group.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert owner member: %w", err)
		}

		return nil
	})
}

func (r *SQLiteRepository) Get(ctx context.Context, groupID string) (*Group, error) {
	group := &Group{}
	err := r.db.QueryRowContext(ctx,
		`SELECT group_id, name, owner_id, created_at FROM groups WHERE group_id = ?`,
		groupID).Scan(&group.GroupID, &group.Name, &group.OwnerID, &group.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	return group, nil
}

func (r *SQLiteRepository) Rename(ctx context.Context, groupID, name string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE groups SET name = ? WHERE group_id = ?`, name, groupID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AddMember(ctx context.Context, m *Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		m.GroupID, m.UserID, m.Role, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetRole(ctx context.Context, groupID, userID string) (string, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID).Scan(&role)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", shared.ErrorNotInGroup
		}
		return "", fmt.Errorf("error performing sql request: %w", err)
	}

	return role, nil
}

func (r *SQLiteRepository) SetRole(ctx context.Context, groupID, userID, role string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?`,
		role, groupID, userID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Members(ctx context.Context, groupID string) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = ?`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (r *SQLiteRepository) Dissolve(ctx context.Context, groupID string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM message_targets WHERE message_id IN
			 (SELECT message_id FROM messages WHERE conversation_type = 'group' AND conversation_id = ?)`,
			groupID)
		if err != nil {
			return fmt.Errorf("delete message targets: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM messages WHERE conversation_type = 'group' AND conversation_id = ?`,
			groupID)
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id = ?`, groupID)
		if err != nil {
			return fmt.Errorf("delete members: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM groups WHERE group_id = ?`, groupID)
		if err != nil {
			return fmt.Errorf("delete group: %w", err)
		}

		return nil
	})
}
