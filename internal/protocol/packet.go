// Package protocol implements the framed binary wire format shared by the
// server and the client: a fixed 28-byte big-endian header followed by a
// UTF-8 JSON metadata section and an opaque binary payload.
package protocol

import "errors"

const (
	// Magic spells "OLTK" in the first four header bytes.
	Magic   uint32 = 0x4F4C544B
	Version uint16 = 1

	HeaderSize = 28

	MaxMetaLen = 1 << 20  // 1 MiB
	MaxBinLen  = 32 << 20 // 32 MiB
)

var (
	ErrBadMagic     = errors.New("bad magic")
	ErrBadVersion   = errors.New("unsupported protocol version")
	ErrMetaTooLarge = errors.New("metadata section too large")
	ErrBinTooLarge  = errors.New("binary section too large")
)

// Type identifies the kind of packet. The numeric codes are part of the
// wire contract and must never be reordered.
type Type uint16

const (
	TypeAuthRegister Type = iota + 1
	TypeAuthLogin
	TypeAuthOk
	TypeAuthError
	TypeUserListUpdate
	TypePresenceUpdate
	TypeGroupCreate
	TypeGroupJoin
	TypeGroupLeave
	TypeGroupAdmin
	TypeMessageSend
	TypeMessageDeliver
	TypeHistoryFetch
	TypeHistoryResponse
	TypeFileOffer
	TypeFileAccept
	TypeFileUploadChunk
	TypeFileUploadDone
	TypeFileDownloadRequest
	TypeFileDownloadChunk
	TypeFileDone
)

// Packet is one framed unit. Meta holds the raw JSON metadata bytes;
// Bin holds the opaque binary payload (file chunks).
//
// RequestID correlates a response with the request that caused it.
// Server-initiated pushes carry RequestID 0.
type Packet struct {
	Type      Type
	Flags     uint32
	RequestID uint64
	Meta      []byte
	Bin       []byte
}
