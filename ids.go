package debugbar

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewRequestID returns a fresh request ID in UUIDv4 text form.
func NewRequestID() string {
	return uuid.NewString()
}

// IsRequestID returns true if s is a UUIDv4 in canonical lowercase text form,
// i.e. 8-4-4-4-12 hex groups, version nibble 4, and variant nibble 8-b.
func IsRequestID(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122 && u.String() == s
}

// NewDumpID returns a fresh dump ID: 128 random bits as 32 lowercase hex
// characters.
func NewDumpID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand doesn't fail on supported platforms; fall back to a UUID,
		// which is still 122 random bits.
		u := uuid.New()
		copy(b[:], u[:])
	}
	return hex.EncodeToString(b[:])
}

// IsDumpID returns true if s is 32 lowercase hex characters.
func IsDumpID(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
