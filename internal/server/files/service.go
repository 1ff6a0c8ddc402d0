package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"oltchat/internal/filex"
	"oltchat/internal/shared"
)

// Service owns the file transfer lifecycle: offer, chunked append,
// integrity-checked finalize, fan-out bookkeeping and ranged reads.
type Service struct {
	repo      Repository
	filesDir  string
	tmpDir    string
	chunkSize int64
}

func NewService(repo Repository, dataDir string, chunkSize int64) (*Service, error) {
	filesDir := filepath.Join(dataDir, "files")
	tmpDir := filepath.Join(dataDir, "tmp")

	if err := filex.EnsureDir(filesDir); err != nil {
		return nil, err
	}
	if err := filex.EnsureDir(tmpDir); err != nil {
		return nil, err
	}

	return &Service{
		repo:      repo,
		filesDir:  filesDir,
		tmpDir:    tmpDir,
		chunkSize: chunkSize,
	}, nil
}

// ChunkSize is the server-advertised transfer granularity.
func (s *Service) ChunkSize() int64 {
	return s.chunkSize
}

// CreateUpload registers a fresh offer: assigns the file id, computes
// the storage and temp paths and inserts file, upload and target rows.
func (s *Service) CreateUpload(ctx context.Context, file *File, recipients []string) (*File, error) {
	file.FileID = shared.NewHexID()
	file.StoragePath = filepath.Join(s.filesDir, file.FileID+"_"+filex.SanitizeName(file.FileName))
	file.CreatedAt = time.Now().Unix()

	upload := &Upload{
		FileID:       file.FileID,
		TempPath:     filepath.Join(s.tmpDir, file.FileID+".part"),
		UploadedSize: 0,
		Status:       StatusUploading,
		UpdatedAt:    file.CreatedAt,
	}

	if err := s.repo.CreateUpload(ctx, file, upload, recipients); err != nil {
		return nil, fmt.Errorf("error creating upload: %w", err)
	}

	return file, nil
}

// ResumeUpload returns the offset an interrupted upload should continue
// from. The temp file on disk is the source of truth for bytes present;
// the row is re-synced to it when they disagree.
func (s *Service) ResumeUpload(ctx context.Context, fileID, uploaderID string) (int64, error) {
	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if file.UploaderID != uploaderID {
		return 0, shared.ErrorUploaderMismatch
	}

	upload, err := s.repo.GetUpload(ctx, fileID)
	if err != nil {
		return 0, err
	}

	var onDisk int64
	if fi, err := os.Stat(upload.TempPath); err == nil {
		onDisk = fi.Size()
	}

	if onDisk != upload.UploadedSize {
		if err := s.repo.SetUploadedSize(ctx, fileID, onDisk); err != nil {
			return 0, err
		}
		upload.UploadedSize = onDisk
	}

	return upload.UploadedSize, nil
}

// AppendChunk writes data at offset into the temp file. The offset must
// equal the current uploaded size exactly; on mismatch the expected
// offset is returned alongside shared.ErrorOffsetMismatch so the client
// can seek.
func (s *Service) AppendChunk(ctx context.Context, fileID, uploaderID string, offset int64, data []byte) (next int64, expected int64, err error) {
	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return 0, 0, err
	}
	if file.UploaderID != uploaderID {
		return 0, 0, shared.ErrorUploaderMismatch
	}

	upload, err := s.repo.GetUpload(ctx, fileID)
	if err != nil {
		return 0, 0, err
	}

	if offset != upload.UploadedSize {
		return 0, upload.UploadedSize, shared.ErrorOffsetMismatch
	}
	if offset+int64(len(data)) > file.FileSize {
		return 0, 0, shared.ErrorChunkExceedsFileSize
	}

	if err := writeAt(upload.TempPath, offset, data); err != nil {
		return 0, 0, fmt.Errorf("write chunk: %w", err)
	}

	next = offset + int64(len(data))
	if err := s.repo.SetUploadedSize(ctx, fileID, next); err != nil {
		return 0, 0, err
	}

	return next, 0, nil
}

// FinalizeUpload verifies completeness and content hash, publishes the
// file with an atomic rename and drops the upload row. On any failure
// the temp file stays in place for diagnosis and the file remains
// unpublished.
func (s *Service) FinalizeUpload(ctx context.Context, fileID, uploaderID string) (*File, error) {
	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UploaderID != uploaderID {
		return nil, shared.ErrorUploaderMismatch
	}

	upload, err := s.repo.GetUpload(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if upload.UploadedSize != file.FileSize {
		return nil, shared.ErrorNotFullyUploaded
	}

	sum, err := filex.Sha256File(upload.TempPath)
	if err != nil {
		return nil, fmt.Errorf("hash temp file: %w", err)
	}
	if sum != file.Sha256 {
		return nil, shared.ErrorShaMismatch
	}

	if err := os.Rename(upload.TempPath, file.StoragePath); err != nil {
		return nil, fmt.Errorf("publish file: %w", err)
	}

	if err := s.repo.DeleteUpload(ctx, fileID); err != nil {
		return nil, err
	}

	return file, nil
}

// ReadChunk serves up to chunkSize bytes of a published file starting
// at offset. Gated on the requester holding a target row, the upload
// being finalized and the offset lying inside the file.
func (s *Service) ReadChunk(ctx context.Context, fileID, userID string, offset int64) (*File, []byte, bool, error) {
	ok, err := s.repo.HasTarget(ctx, fileID, userID)
	if err != nil {
		return nil, nil, false, err
	}
	if !ok {
		return nil, nil, false, shared.ErrorNoDownloadPermission
	}

	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, false, err
	}

	if _, err := s.repo.GetUpload(ctx, fileID); err == nil {
		return nil, nil, false, shared.ErrorStillUploading
	} else if !errors.Is(err, shared.ErrorNotFound) {
		return nil, nil, false, err
	}

	if offset < 0 || offset >= file.FileSize {
		return nil, nil, false, shared.ErrorOffsetOutOfRange
	}

	want := s.chunkSize
	if remaining := file.FileSize - offset; remaining < want {
		want = remaining
	}

	f, err := os.Open(file.StoragePath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("open %s: %w", file.StoragePath, err)
	}
	defer f.Close()

	data := make([]byte, want)
	n, err := f.ReadAt(data, offset)
	if err != nil && err != io.EOF {
		return nil, nil, false, fmt.Errorf("read %s: %w", file.StoragePath, err)
	}
	data = data[:n]

	done := offset+int64(n) >= file.FileSize
	return file, data, done, nil
}

// FetchUndelivered returns published files pending for the user.
func (s *Service) FetchUndelivered(ctx context.Context, userID string, limit int) ([]File, error) {
	return s.repo.FetchUndelivered(ctx, userID, limit)
}

// MarkDelivered consumes one target row.
func (s *Service) MarkDelivered(ctx context.Context, fileID, userID string) error {
	return s.repo.MarkDelivered(ctx, fileID, userID)
}

// Targets lists the users permitted to download the file.
func (s *Service) Targets(ctx context.Context, fileID string) ([]string, error) {
	return s.repo.Targets(ctx, fileID)
}

// writeAt truncates the temp file when starting at zero and writes in
// place otherwise.
func writeAt(path string, offset int64, data []byte) error {
	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o660)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return err
	}

	return nil
}
