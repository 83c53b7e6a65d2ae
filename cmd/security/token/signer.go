package token

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// KeyClass selects which secret signs or verifies a token.
type KeyClass uint8

const (
	Access KeyClass = iota + 1
	Refresh
)

func (k KeyClass) String() string {
	switch k {
	case Access:
		return "access"
	case Refresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Claims is the access-token payload.
type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshClaims is the refresh-token payload. SessionID binds it to a session row.
type RefreshClaims struct {
	Claims
	SessionID string `json:"sessionId"`
}

// SignerConfig configures a Signer.
type SignerConfig struct {
	Issuer        string
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Leeway is the clock skew tolerated on exp/nbf/iat.
	Leeway time.Duration
	// DigestKey keys refresh digests; nil selects plain SHA-256.
	DigestKey []byte
}

const minSecretBytes = 32

// Signer issues and verifies access and refresh JWTs.
type Signer struct {
	cfg    SignerConfig
	method jwt.SigningMethod
}

// NewSigner validates cfg and returns a Signer.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	switch {
	case len(cfg.AccessSecret) < minSecretBytes:
		return nil, fmt.Errorf("%w: access secret shorter than %d bytes", ErrSignerConfig, minSecretBytes)
	case len(cfg.RefreshSecret) < minSecretBytes:
		return nil, fmt.Errorf("%w: refresh secret shorter than %d bytes", ErrSignerConfig, minSecretBytes)
	case bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret):
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrSignerConfig)
	case cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0:
		return nil, fmt.Errorf("%w: lifetimes must be positive", ErrSignerConfig)
	case cfg.AccessTTL >= cfg.RefreshTTL:
		return nil, fmt.Errorf("%w: access lifetime must be shorter than refresh lifetime", ErrSignerConfig)
	case cfg.Leeway < 0:
		return nil, fmt.Errorf("%w: negative leeway", ErrSignerConfig)
	}
	return &Signer{cfg: cfg, method: jwt.SigningMethodHS256}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (s *Signer) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (s *Signer) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// Digest returns the stored form of a refresh token under this signer's key.
func (s *Signer) Digest(refreshToken string) string {
	return DigestRefresh(refreshToken, s.cfg.DigestKey)
}

// IssueAccess signs an access token for c valid from now for AccessTTL.
func (s *Signer) IssueAccess(c Claims, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.cfg.AccessTTL)
	c.RegisteredClaims = s.registered(c.UserID, now, exp)
	tok, err := jwt.NewWithClaims(s.method, c).SignedString(s.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// IssueRefresh signs a refresh token for c valid from now for RefreshTTL.
func (s *Signer) IssueRefresh(c RefreshClaims, now time.Time) (string, time.Time, error) {
	if c.SessionID == "" {
		return "", time.Time{}, errors.New("token: refresh claims require a session id")
	}
	exp := now.Add(s.cfg.RefreshTTL)
	c.RegisteredClaims = s.registered(c.UserID, now, exp)
	tok, err := jwt.NewWithClaims(s.method, c).SignedString(s.cfg.RefreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// registered builds the standard claims. The random jti keeps two tokens minted in
// the same second for the same session distinct, which rotation depends on.
func (s *Signer) registered(subject string, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.cfg.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

// VerifyAccess verifies an access token at now.
func (s *Signer) VerifyAccess(tok string, now time.Time) (Claims, error) {
	var c Claims
	if err := s.parse(tok, Access, &c, now); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// VerifyRefresh verifies a refresh token at now. A valid token without a session id is malformed.
func (s *Signer) VerifyRefresh(tok string, now time.Time) (RefreshClaims, error) {
	var c RefreshClaims
	if err := s.parse(tok, Refresh, &c, now); err != nil {
		return RefreshClaims{}, err
	}
	if c.SessionID == "" {
		return RefreshClaims{}, ErrMalformed
	}
	return c, nil
}

// Verify checks tok against the secret of class and returns the access-level claims.
func (s *Signer) Verify(tok string, class KeyClass, now time.Time) (Claims, error) {
	switch class {
	case Access:
		return s.VerifyAccess(tok, now)
	case Refresh:
		rc, err := s.VerifyRefresh(tok, now)
		return rc.Claims, err
	default:
		return Claims{}, ErrMalformed
	}
}

// DecodeRefreshUnverified reads refresh claims without checking the signature or
// time claims. Callers must not trust the result for anything but revocation.
func DecodeRefreshUnverified(tok string) (RefreshClaims, bool) {
	var c RefreshClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &c); err != nil {
		return RefreshClaims{}, false
	}
	if c.SessionID == "" {
		return RefreshClaims{}, false
	}
	return c, true
}

func (s *Signer) parse(tok string, class KeyClass, dst jwt.Claims, now time.Time) error {
	if tok == "" || len(tok) > 8192 {
		return ErrMalformed
	}

	var key []byte
	switch class {
	case Access:
		key = s.cfg.AccessSecret
	case Refresh:
		key = s.cfg.RefreshSecret
	default:
		return ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(tok, dst, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return classify(err)
	}
	if !parsed.Valid {
		return ErrMalformed
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	default:
		return ErrMalformed
	}
}
