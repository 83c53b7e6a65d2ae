package session

import (
	"context"
	"net"
	"time"
)

// DeviceContext describes the client that owns a session.
type DeviceContext struct {
	Name      string
	UserAgent string
	IP        net.IP
}

// Row mirrors a medauth.sessions row.
type Row struct {
	ID               string
	UserID           string
	DeviceName       *string
	RefreshTokenHash string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	LastUsedAt       *time.Time
	UserAgent        *string
}

// Store abstracts persistence for session state.
//
// Finalize, Rotate, Logout and ResetCredentials also touch the owning user's row
// and must commit both changes atomically.
type Store interface {
	// Create inserts a row with a placeholder digest and expires_at = now.
	Create(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Row, error)

	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Finalize stores the real refresh digest and expiry and marks the user
	// online with last_active_at = now.
	Finalize(ctx context.Context, sessionID, userID, refreshHash string, expiresAt, now time.Time) error

	// Rotate replaces presentedHash with newHash under a row lock. A missing row
	// is ErrSessionNotFound. A digest mismatch or an expired row deletes the row
	// and returns it together with ErrReuseOrExpired.
	Rotate(ctx context.Context, sessionID, presentedHash, newHash string, newExpiresAt, now time.Time) (Row, error)

	// Delete removes a session and returns the removed row.
	Delete(ctx context.Context, sessionID string) (Row, error)

	// Logout deletes a session owned by userID and marks the user offline.
	Logout(ctx context.Context, sessionID, userID string, now time.Time) error

	// ResetCredentials replaces the user's password digest, clears OTP state,
	// deletes every session of the user and marks them offline.
	ResetCredentials(ctx context.Context, userID, passwordHash string, now time.Time) (revoked []string, err error)

	// DeleteExpired removes rows that expired before the cutoff. Abandoned
	// placeholders fall under it too, since they are created already expired.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
