package session

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingToken is returned when no refresh token was presented.
	ErrMissingToken = errors.New("refresh token missing")

	// ErrInvalidRefreshToken is returned when the refresh token fails verification.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

	// ErrSessionNotFound is returned when the session row does not exist
	// (or, for logout, belongs to another user).
	ErrSessionNotFound = errors.New("session not found")

	// ErrReuseOrExpired is returned when a verified refresh token does not match
	// the stored digest or the session is past its expiry. The session is deleted.
	ErrReuseOrExpired = errors.New("refresh token reused or session expired")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// RevokedError reports that a refresh attempt deleted a session.
// UserID comes from the deleted row, never from unverified claims.
type RevokedError struct {
	SessionID string
	UserID    string
	Cause     error
}

func (e RevokedError) Error() string {
	return fmt.Sprintf("session %s revoked: %v", e.SessionID, e.Cause)
}

func (e RevokedError) Unwrap() error { return e.Cause }
