package files

import (
	"context"
)

type Repository interface {
	// CreateUpload inserts the file row, the upload row and one target
	// row per recipient in a single transaction.
	CreateUpload(ctx context.Context, file *File, upload *Upload, recipients []string) error

	GetFile(ctx context.Context, fileID string) (*File, error)
	GetUpload(ctx context.Context, fileID string) (*Upload, error)
	SetUploadedSize(ctx context.Context, fileID string, size int64) error
	DeleteUpload(ctx context.Context, fileID string) error

	HasTarget(ctx context.Context, fileID, userID string) (bool, error)
	Targets(ctx context.Context, fileID string) ([]string, error)
	MarkDelivered(ctx context.Context, fileID, userID string) error

	// FetchUndelivered returns published files still pending for the
	// user. Files with a live upload row are never surfaced.
	FetchUndelivered(ctx context.Context, userID string, limit int) ([]File, error)
}
