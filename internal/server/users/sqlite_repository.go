package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"oltchat/internal/shared"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, user *User) error {
	query :=
		`INSERT INTO users (user_id, nickname, password_hash, created_at)
		 VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.UserID, user.Nickname, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}

	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, userID string) (*User, error) {
	query :=
		`SELECT user_id, nickname, password_hash, created_at FROM users
		 WHERE user_id = ?`

	user := &User{}
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&user.UserID, &user.Nickname, &user.PasswordHash, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	return user, nil
}

func (r *SQLiteRepository) Exists(ctx context.Context, userID string) (bool, error) {
	query := `SELECT 1 FROM users WHERE user_id = ?`

	var one int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error performing sql request: %w", err)
	}

	return true, nil
}
