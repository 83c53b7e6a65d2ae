package app

import (
	"errors"

	"medauth/cmd/security/token"
)

// ValidateSecurityConfig enforces medauth's startup security policy. A
// configuration that would silently fall back to unkeyed refresh digests
// under MEDAUTH_REQUIRE_TOKEN_HMAC fails here.
func ValidateSecurityConfig(cfg Config) error {
	_, err := refreshDigestKey(cfg)
	return err
}

// refreshDigestKey returns the key for stored refresh digests. A key that is
// present must be at least 32 bytes even when not required.
func refreshDigestKey(cfg Config) ([]byte, error) {
	if !cfg.RequireTokenHMAC && !token.HMACEnabled() {
		return nil, nil
	}

	key, err := token.HMACKeyFromEnv(32)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, token.ErrHMACKeyMissing):
		return nil, errors.New("security policy: MEDAUTH_REQUIRE_TOKEN_HMAC=true but MEDAUTH_TOKEN_HMAC_KEY is missing")
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return nil, errors.New("security policy: MEDAUTH_TOKEN_HMAC_KEY is too short (min 32 bytes)")
	default:
		return nil, err
	}
}
