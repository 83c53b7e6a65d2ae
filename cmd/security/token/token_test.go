package token

import (
	"strings"
	"testing"
)

func TestDigestRefresh_KeyedAndUnkeyed(t *testing.T) {
	plain := DigestRefresh("tok", nil)
	if plain != HashSHA256Hex("tok") || len(plain) != 64 {
		t.Fatalf("unkeyed digest = %q", plain)
	}

	key := []byte(strings.Repeat("k", 32))
	keyed := DigestRefresh("tok", key)
	if keyed == plain || keyed != HashHMACSHA256Hex("tok", key) {
		t.Fatalf("keyed digest = %q", keyed)
	}
}

func TestDigestEqual(t *testing.T) {
	d := HashSHA256Hex("tok")

	if !DigestEqual(d, HashSHA256Hex("tok")) {
		t.Fatalf("expected equal digests")
	}
	if DigestEqual(d, HashSHA256Hex("other")) {
		t.Fatalf("expected different digests")
	}
	if DigestEqual("pending:abc", d) || DigestEqual("", "") {
		t.Fatalf("non-digest values must never compare equal")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}
	if HMACEnabled() {
		t.Fatalf("expected HMAC disabled")
	}

	t.Setenv(HMACEnvKey, "  short  ")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("z", 40))
	k, err := HMACKeyFromEnv(32)
	if err != nil || len(k) != 40 {
		t.Fatalf("HMACKeyFromEnv = %d bytes, %v", len(k), err)
	}
	if !HMACEnabled() {
		t.Fatalf("expected HMAC enabled")
	}
}
