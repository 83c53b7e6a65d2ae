package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"medauth/cmd/security/token"
)

// Service implements the token side of session handling: two-phase issuance,
// refresh rotation with reuse detection, and revocation.
type Service struct {
	signer *token.Signer
	store  Store
}

// Issued is the result of issuing or rotating a session.
type Issued struct {
	Session      Row
	Claims       token.Claims
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// ClaimsFunc loads the current claims for a user. Rotation re-reads them so role
// and email changes reach the next access token.
type ClaimsFunc func(ctx context.Context, userID string) (token.Claims, error)

// NewService constructs a Service.
func NewService(signer *token.Signer, store Store) *Service {
	return &Service{signer: signer, store: store}
}

// Signer returns the token signer used by the service.
func (s *Service) Signer() *token.Signer { return s.signer }

// IssueSession creates a session for claims.UserID and returns fresh tokens.
//
// The row is created first with a placeholder digest, because the refresh token
// embeds the session id. If minting or finalizing fails the placeholder is
// removed best-effort; it could never verify in any case.
func (s *Service) IssueSession(ctx context.Context, now time.Time, claims token.Claims, dev DeviceContext) (Issued, error) {
	row, err := s.store.Create(ctx, now, claims.UserID, dev)
	if err != nil {
		return Issued{}, err
	}

	out, err := s.mint(claims, row.ID, now)
	if err != nil {
		s.discard(ctx, row.ID)
		return Issued{}, err
	}

	if err := s.store.Finalize(ctx, row.ID, claims.UserID, s.signer.Digest(out.RefreshToken), out.RefreshExp, now); err != nil {
		s.discard(ctx, row.ID)
		return Issued{}, err
	}

	row.RefreshTokenHash = s.signer.Digest(out.RefreshToken)
	row.ExpiresAt = out.RefreshExp
	row.LastUsedAt = &now
	out.Session = row
	return out, nil
}

// RotateRefresh exchanges a refresh token for a new token pair.
//
// Failures:
//   - ErrMissingToken for an empty token.
//   - ErrInvalidRefreshToken when verification fails. If the token still names a
//     session, that session is deleted and the error is a RevokedError.
//   - ErrSessionNotFound when the session row is gone, or when claimsFor
//     reports the owner is gone; the row is then deleted and the error is a
//     RevokedError.
//   - ErrReuseOrExpired (as a RevokedError) when the token is not the latest one
//     issued for the session or the session expired; the session is deleted.
func (s *Service) RotateRefresh(ctx context.Context, now time.Time, refreshToken string, claimsFor ClaimsFunc) (Issued, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Issued{}, ErrMissingToken
	}

	rc, err := s.signer.VerifyRefresh(refreshToken, now)
	if err != nil {
		if dc, ok := token.DecodeRefreshUnverified(refreshToken); ok {
			if row, derr := s.store.Delete(ctx, dc.SessionID); derr == nil {
				return Issued{}, RevokedError{SessionID: row.ID, UserID: row.UserID, Cause: ErrInvalidRefreshToken}
			}
		}
		return Issued{}, ErrInvalidRefreshToken
	}

	claims, err := claimsFor(ctx, rc.UserID)
	if err != nil {
		// A session never outlives its owner.
		if errors.Is(err, ErrSessionNotFound) {
			if row, derr := s.store.Delete(ctx, rc.SessionID); derr == nil {
				return Issued{}, RevokedError{SessionID: row.ID, UserID: row.UserID, Cause: ErrSessionNotFound}
			}
		}
		return Issued{}, err
	}

	out, err := s.mint(claims, rc.SessionID, now)
	if err != nil {
		return Issued{}, err
	}

	row, err := s.store.Rotate(ctx, rc.SessionID, s.signer.Digest(refreshToken), s.signer.Digest(out.RefreshToken), out.RefreshExp, now)
	if err != nil {
		if errors.Is(err, ErrReuseOrExpired) {
			return Issued{}, RevokedError{SessionID: row.ID, UserID: row.UserID, Cause: ErrReuseOrExpired}
		}
		return Issued{}, err
	}

	out.Session = row
	return out, nil
}

// RevokeSession deletes userID's session and marks the user offline.
func (s *Service) RevokeSession(ctx context.Context, now time.Time, sessionID, userID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionNotFound
	}
	return s.store.Logout(ctx, sessionID, userID, now)
}

// ResetCredentials stores a new password digest and revokes every session of the user.
func (s *Service) ResetCredentials(ctx context.Context, now time.Time, userID, passwordHash string) ([]string, error) {
	return s.store.ResetCredentials(ctx, userID, passwordHash, now)
}

// PurgeExpired deletes sessions that expired before the cutoff.
func (s *Service) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.store.DeleteExpired(ctx, before)
}

func (s *Service) mint(claims token.Claims, sessionID string, now time.Time) (Issued, error) {
	access, accessExp, err := s.signer.IssueAccess(claims, now)
	if err != nil {
		return Issued{}, err
	}
	refresh, refreshExp, err := s.signer.IssueRefresh(token.RefreshClaims{Claims: claims, SessionID: sessionID}, now)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		Claims:       claims,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
	}, nil
}

func (s *Service) discard(ctx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	_, _ = s.store.Delete(ctx, sessionID)
}
