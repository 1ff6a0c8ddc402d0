package tcp

// Machine-readable error codes carried in error responses.
const (
	codeInvalidJSON             = "INVALID_JSON"
	codeInvalidUserID           = "INVALID_USER_ID"
	codeInvalidNickname         = "INVALID_NICKNAME"
	codeInvalidPassword         = "INVALID_PASSWORD"
	codeAlreadyExists           = "ALREADY_EXISTS"
	codeRegisterFailed          = "REGISTER_FAILED"
	codeLoginFailed             = "LOGIN_FAILED"
	codeNotLoggedIn             = "NOT_LOGGED_IN"
	codeInvalidName             = "INVALID_NAME"
	codeCreateFailed            = "CREATE_FAILED"
	codeInvalidGroupID          = "INVALID_GROUP_ID"
	codeJoinFailed              = "JOIN_FAILED"
	codeLeaveFailed             = "LEAVE_FAILED"
	codeInvalidRequest          = "INVALID_REQUEST"
	codeRenameFailed            = "RENAME_FAILED"
	codeInvalidTarget           = "INVALID_TARGET"
	codeKickFailed              = "KICK_FAILED"
	codeDissolveFailed          = "DISSOLVE_FAILED"
	codeAdminFailed             = "ADMIN_FAILED"
	codeUnknownAction           = "UNKNOWN_ACTION"
	codeUserLookupFailed        = "USER_LOOKUP_FAILED"
	codeTargetNotFound          = "TARGET_NOT_FOUND"
	codeNotInGroup              = "NOT_IN_GROUP"
	codeNoRecipients            = "NO_RECIPIENTS"
	codeInvalidConversationType = "INVALID_CONVERSATION_TYPE"
	codeStoreFailed             = "STORE_FAILED"
	codeHistoryFailed           = "HISTORY_FAILED"
	codeInvalidSha256           = "INVALID_SHA256"
	codeInvalidSize             = "INVALID_SIZE"
	codeResumeFailed            = "RESUME_FAILED"
	codeOfferFailed             = "OFFER_FAILED"
	codeInvalidFileID           = "INVALID_FILE_ID"
	codeEmptyChunk              = "EMPTY_CHUNK"
	codeChunkTooLarge           = "CHUNK_TOO_LARGE"
	codeUploadFailed            = "UPLOAD_FAILED"
	codeFinalizeFailed          = "FINALIZE_FAILED"
	codeDownloadFailed          = "DOWNLOAD_FAILED"
	codeNoPermission            = "NO_PERMISSION"
	codeStillUploading          = "FILE_STILL_UPLOADING"
	codeOutOfRange              = "OUT_OF_RANGE"
)

// Field caps enforced before any service call.
const (
	maxFieldLength    = 64
	maxContentLength  = 4096
	maxFileNameLength = 255
	sha256HexLength   = 64
)
