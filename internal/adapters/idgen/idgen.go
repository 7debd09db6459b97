package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Generator mints UUIDv4 command identifiers for request envelopes.
type Generator struct{}

// NewID returns a random UUIDv4 string, or "" if entropy is unavailable.
func (Generator) NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return hex.EncodeToString(b[0:4]) + "-" +
		hex.EncodeToString(b[4:6]) + "-" +
		hex.EncodeToString(b[6:8]) + "-" +
		hex.EncodeToString(b[8:10]) + "-" +
		hex.EncodeToString(b[10:16])
}
