// Package storage opens the server's SQLite database and bootstraps the
// schema. All access goes through database/sql with the pure-Go driver.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the database file and applies the
// connection pragmas: WAL journaling, enforced foreign keys and a busy
// timeout so concurrent readers do not fail immediately.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// The router goroutine is the only writer; a single connection keeps
	// transactions on one session.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=3000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id       TEXT PRIMARY KEY,
		nickname      TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS groups (
		group_id   TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		owner_id   TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id  TEXT NOT NULL,
		user_id   TEXT NOT NULL,
		role      TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS messages (
		message_id        INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_type TEXT NOT NULL,
		conversation_id   TEXT NOT NULL,
		sender_id         TEXT NOT NULL,
		sender_nickname   TEXT NOT NULL,
		content           TEXT NOT NULL,
		created_at        INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS message_targets (
		message_id   INTEGER NOT NULL,
		user_id      TEXT NOT NULL,
		delivered_at INTEGER,
		PRIMARY KEY (message_id, user_id)
	);`,
	`CREATE TABLE IF NOT EXISTS files (
		file_id           TEXT PRIMARY KEY,
		conversation_type TEXT NOT NULL,
		conversation_id   TEXT NOT NULL,
		file_name         TEXT NOT NULL,
		file_size         INTEGER NOT NULL,
		sha256            TEXT NOT NULL,
		uploader_id       TEXT NOT NULL,
		storage_path      TEXT NOT NULL,
		created_at        INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS file_uploads (
		file_id       TEXT PRIMARY KEY,
		temp_path     TEXT NOT NULL,
		uploaded_size INTEGER NOT NULL,
		status        TEXT NOT NULL,
		updated_at    INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS file_targets (
		file_id      TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		delivered_at INTEGER,
		PRIMARY KEY (file_id, user_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_type, conversation_id, message_id);`,
	`CREATE INDEX IF NOT EXISTS idx_message_targets_user
		ON message_targets(user_id, delivered_at);`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON group_members(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_file_targets_user
		ON file_targets(user_id, delivered_at);`,
	`CREATE INDEX IF NOT EXISTS idx_files_conversation
		ON files(conversation_type, conversation_id);`,
}

// InitSchema creates tables and indexes if missing and applies the
// additive column migrations. Safe to run on every start.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	if err := addColumnIfMissing(ctx, db,
		`ALTER TABLE files ADD COLUMN uploader_nickname TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}

	return nil
}

// addColumnIfMissing runs an ALTER TABLE ... ADD COLUMN statement and
// swallows the "duplicate column name" error SQLite reports on rerun.
func addColumnIfMissing(ctx context.Context, db *sql.DB, stmt string) error {
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		if strings.Contains(err.Error(), "duplicate column name") {
			return nil
		}
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
