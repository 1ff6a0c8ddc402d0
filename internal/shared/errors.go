// Package shared defines sentinel errors and small helpers used across
// client and server layers. Callers should use errors.Is to match these
// values.
package shared

import "errors"

var (
	// common errors
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// auth-specific errors
	ErrorPasswordMismatch  = errors.New("password mismatch")
	ErrorUserAlreadyOnline = errors.New("user already online")

	// group-specific errors
	ErrorNotInGroup       = errors.New("user not in group")
	ErrorPermissionDenied = errors.New("permission denied")
	ErrorOwnerCannotLeave = errors.New("owner cannot leave group")

	// file-transfer-specific errors
	ErrorUploaderMismatch     = errors.New("uploader mismatch")
	ErrorOffsetMismatch       = errors.New("offset mismatch")
	ErrorChunkExceedsFileSize = errors.New("chunk exceeds file size")
	ErrorNotFullyUploaded     = errors.New("file not fully uploaded")
	ErrorShaMismatch          = errors.New("sha256 mismatch")
	ErrorStillUploading       = errors.New("file is still uploading")
	ErrorOffsetOutOfRange     = errors.New("offset out of range")
	ErrorNoDownloadPermission = errors.New("no permission to download")
)
