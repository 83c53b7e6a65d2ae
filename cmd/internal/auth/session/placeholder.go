package session

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

const placeholderPrefix = "pending:"

// newPlaceholderHash returns the digest stored on a session row between Create
// and Finalize. It is never 64 hex chars, so no presented token can match it.
func newPlaceholderHash() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return placeholderPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// IsPlaceholder reports whether a stored digest belongs to an unfinalized session.
func IsPlaceholder(hash string) bool {
	return strings.HasPrefix(hash, placeholderPrefix)
}
