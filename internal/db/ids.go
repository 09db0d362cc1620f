package db

import (
	"crypto/rand"
	"encoding/hex"
)

const idRandomBytes = 16

// generateID returns a prefixed random row ID, e.g. "usr_a1b2...".
// Public UIDs are a separate concern handled by the token package.
func generateID(prefix string) (string, error) {
	b := make([]byte, idRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}
