package session

import (
	"strings"
	"testing"
	"time"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("MEDAUTH_JWT_ACCESS_SECRET", strings.Repeat("a", 32))
	t.Setenv("MEDAUTH_JWT_REFRESH_SECRET", strings.Repeat("r", 32))
}

func TestLoadConfigFromEnv_MissingSecrets(t *testing.T) {
	t.Setenv("MEDAUTH_JWT_ACCESS_SECRET", "")
	t.Setenv("MEDAUTH_JWT_REFRESH_SECRET", strings.Repeat("r", 32))
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig on missing secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_SameSecrets(t *testing.T) {
	same := strings.Repeat("s", 40)
	t.Setenv("MEDAUTH_JWT_ACCESS_SECRET", same)
	t.Setenv("MEDAUTH_JWT_REFRESH_SECRET", same)
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig for shared secret, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	for key, val := range map[string]string{
		"MEDAUTH_AUTH_ACCESS_TTL":  "-5m",
		"MEDAUTH_AUTH_REFRESH_TTL": "soon",
		"MEDAUTH_AUTH_CLOCK_SKEW":  "-1s",
	} {
		t.Run(key, func(t *testing.T) {
			setSecrets(t)
			t.Setenv(key, val)
			if _, err := LoadConfigFromEnv(); err != ErrConfig {
				t.Fatalf("expected ErrConfig for %s=%s, got %v", key, val, err)
			}
		})
	}
}

func TestLoadConfigFromEnv_AccessMustBeShorter(t *testing.T) {
	setSecrets(t)
	t.Setenv("MEDAUTH_AUTH_ACCESS_TTL", "48h")
	t.Setenv("MEDAUTH_AUTH_REFRESH_TTL", "24h")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig for ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	setSecrets(t)
	t.Setenv("MEDAUTH_AUTH_ISSUER", "medauth-test")
	t.Setenv("MEDAUTH_AUTH_ACCESS_TTL", "10m")
	t.Setenv("MEDAUTH_AUTH_REFRESH_TTL", "48h")
	t.Setenv("MEDAUTH_AUTH_CLOCK_SKEW", "0s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Issuer != "medauth-test" {
		t.Fatalf("issuer mismatch: %q", cfg.Issuer)
	}
	if cfg.AccessTokenTTL != 10*time.Minute {
		t.Fatalf("access ttl mismatch: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 48*time.Hour {
		t.Fatalf("refresh ttl mismatch: %v", cfg.RefreshTokenTTL)
	}
	if cfg.ClockSkew != 0 {
		t.Fatalf("clock skew mismatch: %v", cfg.ClockSkew)
	}

	if _, err := cfg.Signer(nil); err != nil {
		t.Fatalf("Signer: %v", err)
	}
}
