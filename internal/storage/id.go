package storage

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

const (
	// IDShort is the id length shown in listings.
	IDShort = 7
	// IDMinLen is the shortest prefix matched against ids.
	IDMinLen = 4

	idBytes = 20
)

// IDRegexp matches a full session id.
var IDRegexp = regexp.MustCompile(`^[0-9a-f]{40}$`)

// NewID returns a random 40 character hex session id.
func NewID() string {
	b := make([]byte, idBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ShortID truncates id for display.
func ShortID(id string) string {
	if len(id) > IDShort {
		return id[:IDShort]
	}
	return id
}
