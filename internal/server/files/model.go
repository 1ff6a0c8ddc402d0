package files

// File is the published-file row. StoragePath points at the final
// location; the row is only downloadable once no Upload row remains.
type File struct {
	FileID           string
	ConversationType string
	ConversationID   string
	FileName         string
	FileSize         int64
	Sha256           string
	UploaderID       string
	UploaderNickname string
	StoragePath      string
	CreatedAt        int64
}

// Upload is the transient in-flight row. Its presence blocks downloads.
type Upload struct {
	FileID       string
	TempPath     string
	UploadedSize int64
	Status       string
	UpdatedAt    int64
}

const StatusUploading = "uploading"
