package messages

import (
	"context"
)

type Repository interface {
	// Store inserts the message and one target row per recipient in a
	// single transaction, filling in the assigned MessageID.
	Store(ctx context.Context, msg *Message, recipients []string) error

	// FetchUndelivered returns up to limit pending messages for the
	// user, oldest first.
	FetchUndelivered(ctx context.Context, userID string, limit int) ([]Message, error)

	// MarkDelivered stamps the user's target rows for the given ids.
	// Rows already stamped are left untouched.
	MarkDelivered(ctx context.Context, userID string, ids []int64) error

	// FetchHistory returns up to limit messages of a conversation with
	// message_id < beforeID (0 means from the newest), oldest first.
	// Private rows are stored directionally, so both directions between
	// the viewer and convID count as one conversation.
	FetchHistory(ctx context.Context, convType, convID, viewerID string, beforeID int64, limit int) ([]Message, error)
}
