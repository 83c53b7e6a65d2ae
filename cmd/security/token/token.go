package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"
)

// HMACEnvKey names the env var holding the refresh digest key.
// #nosec G101 -- not a credential; it's an environment variable name.
const HMACEnvKey = "MEDAUTH_TOKEN_HMAC_KEY"

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// DigestRefresh is the stored form of a refresh token.
// An empty key selects the SHA-256 fallback.
func DigestRefresh(token string, key []byte) string {
	if len(key) == 0 {
		return HashSHA256Hex(token)
	}
	return HashHMACSHA256Hex(token, key)
}

// DigestEqual compares two hex digests in constant time. Values that are not
// 64-char digests (for example a session placeholder) never compare equal.
func DigestEqual(a, b string) bool {
	if len(a) != 64 || len(b) != 64 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HMACKeyFromEnv returns the trimmed digest key, enforcing a minimum byte length.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether a digest key is present. Length is not checked.
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}
