package protocol

// Metadata payloads. Field names are part of the wire contract.

// Status is the shared response envelope. Error responses always carry
// status "error" plus a machine code and a human message; successful
// responses carry status "ok" or omit the envelope entirely.
type Status struct {
	Status  string `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// OK reports whether the response did not signal an error.
func (s *Status) OK() bool {
	return s.Status != StatusError
}

type UserInfo struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

type AuthRegisterMeta struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

type AuthLoginMeta struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type AuthOkMeta struct {
	UserID      string     `json:"user_id,omitempty"`
	Nickname    string     `json:"nickname,omitempty"`
	Registered  bool       `json:"registered,omitempty"`
	LoggedIn    bool       `json:"logged_in"`
	OnlineUsers []UserInfo `json:"online_users,omitempty"`
}

type AuthErrorMeta struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type UserListUpdateMeta struct {
	Users []UserInfo `json:"users"`
}

type GroupCreateMeta struct {
	Name string `json:"name"`
}

type GroupCreateResp struct {
	Status
	GroupID string `json:"group_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

type GroupMemberMeta struct {
	GroupID string `json:"group_id"`
}

// GroupAdminMeta covers rename, kick, dissolve, promote and demote.
type GroupAdminMeta struct {
	Action       string `json:"action"`
	GroupID      string `json:"group_id"`
	Name         string `json:"name,omitempty"`
	TargetUserID string `json:"target_user_id,omitempty"`
}

type MessageSendMeta struct {
	ConversationType string `json:"conversation_type"`
	ConversationID   string `json:"conversation_id"`
	Content          string `json:"content"`
}

type MessageSendResp struct {
	Status
	MessageID int64 `json:"message_id,omitempty"`
	CreatedAt int64 `json:"created_at,omitempty"`
}

type MessageDeliverMeta struct {
	MessageID        int64  `json:"message_id"`
	ConversationType string `json:"conversation_type"`
	ConversationID   string `json:"conversation_id"`
	SenderID         string `json:"sender_id"`
	SenderNickname   string `json:"sender_nickname"`
	Content          string `json:"content"`
	CreatedAt        int64  `json:"created_at"`
}

type HistoryFetchMeta struct {
	ConversationType string `json:"conversation_type"`
	ConversationID   string `json:"conversation_id"`
	BeforeMessageID  int64  `json:"before_message_id"`
	Limit            int    `json:"limit"`
}

type HistoryResponseMeta struct {
	Status
	ConversationType    string               `json:"conversation_type,omitempty"`
	ConversationID      string               `json:"conversation_id,omitempty"`
	Messages            []MessageDeliverMeta `json:"messages,omitempty"`
	NextBeforeMessageID int64                `json:"next_before_message_id,omitempty"`
	Count               int                  `json:"count"`
}

type FileOfferMeta struct {
	ConversationType string `json:"conversation_type"`
	ConversationID   string `json:"conversation_id"`
	FileName         string `json:"file_name"`
	FileSize         int64  `json:"file_size"`
	Sha256           string `json:"sha256"`
	// FileID set on a resumed offer, empty on a fresh one.
	FileID string `json:"file_id,omitempty"`
}

type FileAcceptMeta struct {
	Status
	FileID     string `json:"file_id,omitempty"`
	NextOffset int64  `json:"next_offset"`
	ChunkSize  int64  `json:"chunk_size,omitempty"`
}

type FileUploadChunkMeta struct {
	FileID string `json:"file_id"`
	Offset int64  `json:"offset"`
}

type FileUploadChunkResp struct {
	Status
	NextOffset int64 `json:"next_offset,omitempty"`
	// ExpectedOffset accompanies an "offset mismatch" error so the
	// uploader can seek and retry.
	ExpectedOffset *int64 `json:"expected_offset,omitempty"`
}

type FileUploadDoneMeta struct {
	FileID string `json:"file_id"`
}

type FileDownloadRequestMeta struct {
	FileID string `json:"file_id"`
	Offset int64  `json:"offset"`
}

type FileDownloadChunkMeta struct {
	Status
	FileID   string `json:"file_id,omitempty"`
	Offset   int64  `json:"offset"`
	FileSize int64  `json:"file_size,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Sha256   string `json:"sha256,omitempty"`
	Done     bool   `json:"done"`
}

// FileNoticeMeta is the published-file notice carried by FileDone, both
// as the reply to FileUploadDone and as the fan-out push.
type FileNoticeMeta struct {
	Status
	FileID           string `json:"file_id"`
	ConversationType string `json:"conversation_type"`
	ConversationID   string `json:"conversation_id"`
	FileName         string `json:"file_name"`
	FileSize         int64  `json:"file_size"`
	Sha256           string `json:"sha256"`
	UploaderID       string `json:"uploader_id"`
	UploaderNickname string `json:"uploader_nickname"`
	CreatedAt        int64  `json:"created_at"`
}
