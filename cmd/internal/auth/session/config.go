package session

import (
	"os"
	"strings"
	"time"

	"medauth/cmd/security/token"
)

// Config defines runtime configuration for the session subsystem: token
// lifetimes, clock skew tolerance and the two JWT signing secrets.
type Config struct {
	// Issuer is the value set in the "iss" claim of both token classes.
	Issuer string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// AccessSecret and RefreshSecret are independent HS256 keys.
	AccessSecret  string
	RefreshSecret string
}

// DefaultConfig returns defaults without secrets.
func DefaultConfig() Config {
	return Config{
		Issuer:          "medauth",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - MEDAUTH_JWT_ACCESS_SECRET (>= 32 bytes)
//   - MEDAUTH_JWT_REFRESH_SECRET (>= 32 bytes, different from the access secret)
//
// Optional (durations must be valid Go duration strings):
//   - MEDAUTH_AUTH_ISSUER
//   - MEDAUTH_AUTH_ACCESS_TTL
//   - MEDAUTH_AUTH_REFRESH_TTL
//   - MEDAUTH_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("MEDAUTH_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"MEDAUTH_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"MEDAUTH_AUTH_REFRESH_TTL", &cfg.RefreshTokenTTL, false},
		{"MEDAUTH_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	cfg.AccessSecret = os.Getenv("MEDAUTH_JWT_ACCESS_SECRET")
	cfg.RefreshSecret = os.Getenv("MEDAUTH_JWT_REFRESH_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks secret lengths, secret independence and lifetime ordering.
func (c Config) Validate() error {
	switch {
	case len(c.AccessSecret) < 32 || len(c.RefreshSecret) < 32:
		return ErrConfig
	case c.AccessSecret == c.RefreshSecret:
		return ErrConfig
	case c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= c.AccessTokenTTL:
		return ErrConfig
	case c.ClockSkew < 0:
		return ErrConfig
	}
	return nil
}

// Signer builds the token signer for this configuration. digestKey keys the
// stored refresh digests and may be nil.
func (c Config) Signer(digestKey []byte) (*token.Signer, error) {
	return token.NewSigner(token.SignerConfig{
		Issuer:        c.Issuer,
		AccessSecret:  []byte(c.AccessSecret),
		RefreshSecret: []byte(c.RefreshSecret),
		AccessTTL:     c.AccessTokenTTL,
		RefreshTTL:    c.RefreshTokenTTL,
		Leeway:        c.ClockSkew,
		DigestKey:     digestKey,
	})
}
