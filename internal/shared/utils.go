package shared

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewHexID returns a fresh 128-bit identifier encoded as 32 lowercase
// hex characters. Used for group and file ids.
func NewHexID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
