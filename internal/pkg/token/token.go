package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewOptInHash derives the external confirmation token for a stored record:
// SHA-256 over the record id and 32 bytes from crypto/rand, hex encoded (64 chars).
func NewOptInHash(recordID string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate opt-in hash: %w", err)
	}
	sum := sha256.Sum256(append([]byte(recordID), b...))
	return hex.EncodeToString(sum[:]), nil
}

// NewFileName returns a random 32-character hex name with ext appended.
func NewFileName(ext string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate file name: %w", err)
	}
	return hex.EncodeToString(b) + ext, nil
}
