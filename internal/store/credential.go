package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CredentialHash derives the stored credential from an email and PIN:
// sha256(lowercase(email) + ":" + pin), hex-encoded. The PIN itself is
// never persisted.
func CredentialHash(email, pin string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email)) + ":" + pin))
	return hex.EncodeToString(sum[:])
}
