package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"oltchat/internal/dbx"
	"oltchat/internal/shared"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateUpload(ctx context.Context, file *File, upload *Upload, recipients []string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO files (file_id, conversation_type, conversation_id, file_name, file_size,
			                    sha256, uploader_id, uploader_nickname, storage_path, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			file.FileID, file.ConversationType, file.ConversationID, file.FileName, file.FileSize,
			file.Sha256, file.UploaderID, file.UploaderNickname, file.StoragePath, file.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert file: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO file_uploads (file_id, temp_path, uploaded_size, status, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			upload.FileID, upload.TempPath, upload.UploadedSize, upload.Status, upload.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert upload: %w", err)
		}

		seen := make(map[string]struct{}, len(recipients))
		for _, userID := range recipients {
			if _, ok := seen[userID]; ok {
				continue
			}
			seen[userID] = struct{}{}

			_, err := tx.ExecContext(ctx,
				`INSERT INTO file_targets (file_id, user_id) VALUES (?, ?)`,
				file.FileID, userID)
			if err != nil {
				return fmt.Errorf("insert target %s: %w", userID, err)
			}
		}

		return nil
	})
}

func (r *SQLiteRepository) GetFile(ctx context.Context, fileID string) (*File, error) {
	f := &File{}
	err := r.db.QueryRowContext(ctx,
		`SELECT file_id, conversation_type, conversation_id, file_name, file_size,
		        sha256, uploader_id, uploader_nickname, storage_path, created_at
		 FROM files WHERE file_id = ?`, fileID).
		Scan(&f.FileID, &f.ConversationType, &f.ConversationID, &f.FileName, &f.FileSize,
			&f.Sha256, &f.UploaderID, &f.UploaderNickname, &f.StoragePath, &f.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	return f, nil
}

func (r *SQLiteRepository) GetUpload(ctx context.Context, fileID string) (*Upload, error) {
	u := &Upload{}
	err := r.db.QueryRowContext(ctx,
		`SELECT file_id, temp_path, uploaded_size, status, updated_at
		 FROM file_uploads WHERE file_id = ?`, fileID).
		Scan(&u.FileID, &u.TempPath, &u.UploadedSize, &u.Status, &u.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrorNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	return u, nil
}

func (r *SQLiteRepository) SetUploadedSize(ctx context.Context, fileID string, size int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE file_uploads SET uploaded_size = ?, updated_at = ? WHERE file_id = ?`,
		size, time.Now().Unix(), fileID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteUpload(ctx context.Context, fileID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM file_uploads WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) HasTarget(ctx context.Context, fileID, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM file_targets WHERE file_id = ? AND user_id = ?`,
		fileID, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error performing sql request: %w", err)
	}
	return true, nil
}

func (r *SQLiteRepository) Targets(ctx context.Context, fileID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM file_targets WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (r *SQLiteRepository) MarkDelivered(ctx context.Context, fileID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE file_targets SET delivered_at = ?
		 WHERE file_id = ? AND user_id = ? AND delivered_at IS NULL`,
		time.Now().Unix(), fileID, userID)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FetchUndelivered(ctx context.Context, userID string, limit int) ([]File, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT f.file_id, f.conversation_type, f.conversation_id, f.file_name, f.file_size,
		        f.sha256, f.uploader_id, f.uploader_nickname, f.storage_path, f.created_at
		 FROM file_targets t
		 JOIN files f ON f.file_id = t.file_id
		 LEFT JOIN file_uploads u ON u.file_id = f.file_id
		 WHERE t.user_id = ? AND t.delivered_at IS NULL AND u.file_id IS NULL
		 ORDER BY f.created_at ASC
		 LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.FileID, &f.ConversationType, &f.ConversationID, &f.FileName, &f.FileSize,
			&f.Sha256, &f.UploaderID, &f.UploaderNickname, &f.StoragePath, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}

	return out, rows.Err()
}
