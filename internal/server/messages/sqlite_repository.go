package messages

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"oltchat/internal/dbx"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Store(ctx context.Context, msg *Message, recipients []string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_type, conversation_id, sender_id, sender_nickname, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ConversationType, msg.ConversationID, msg.SenderID, msg.SenderNickname, msg.Content, msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		msg.MessageID = id

		for _, userID := range recipients {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO message_targets (message_id, user_id) VALUES (?, ?)`,
				id, userID)
			if err != nil {
				return fmt.Errorf("insert target %s: %w", userID, err)
			}
		}

		return nil
	})
}

func (r *SQLiteRepository) FetchUndelivered(ctx context.Context, userID string, limit int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.message_id, m.conversation_type, m.conversation_id, m.sender_id, m.sender_nickname, m.content, m.created_at
		 FROM message_targets t
		 JOIN messages m ON m.message_id = t.message_id
		 WHERE t.user_id = ? AND t.delivered_at IS NULL
		 ORDER BY m.message_id ASC
		 LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (r *SQLiteRepository) MarkDelivered(ctx context.Context, userID string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().Unix()

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, id := range ids {
			_, err := tx.ExecContext(ctx,
				`UPDATE message_targets SET delivered_at = ?
				 WHERE message_id = ? AND user_id = ? AND delivered_at IS NULL`,
				now, id, userID)
			if err != nil {
				return fmt.Errorf("mark delivered %d: %w", id, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) FetchHistory(ctx context.Context, convType, convID, viewerID string, beforeID int64, limit int) ([]Message, error) {
	query :=
		`SELECT message_id, conversation_type, conversation_id, sender_id, sender_nickname, content, created_at
		 FROM messages
		 WHERE conversation_type = ?`
	args := []any{convType}

	if convType == ConversationPrivate {
		query += ` AND ((conversation_id = ? AND sender_id = ?) OR (conversation_id = ? AND sender_id = ?))`
		args = append(args, convID, viewerID, viewerID, convID)
	} else {
		query += ` AND conversation_id = ?`
		args = append(args, convID)
	}

	if beforeID > 0 {
		query += ` AND message_id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY message_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// query walks newest-first, callers want oldest-first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.ConversationType, &m.ConversationID,
			&m.SenderID, &m.SenderNickname, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
