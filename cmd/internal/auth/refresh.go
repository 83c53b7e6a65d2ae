package auth

import (
	"context"
	"errors"

	"medauth/cmd/identity"
	"medauth/cmd/internal/auth/session"
	"medauth/cmd/security/token"
)

// RefreshAccessToken rotates a refresh token and returns a fresh token pair.
// Claims are re-read from the user row, so role and email changes propagate.
func (e *Engine) RefreshAccessToken(ctx context.Context, refreshToken string) (Tokens, error) {
	const op = "auth.RefreshAccessToken"

	var user identity.User
	claimsFor := func(ctx context.Context, userID string) (token.Claims, error) {
		u, err := e.users.GetUserByID(ctx, userID)
		if err != nil {
			if identity.IsNotFound(err) {
				return token.Claims{}, session.ErrSessionNotFound
			}
			return token.Claims{}, err
		}
		user = u
		return token.Claims{UserID: u.ID, Role: string(u.Role), Email: u.Email}, nil
	}

	iss, err := e.sessions.RotateRefresh(ctx, e.now(), refreshToken, claimsFor)
	if err != nil {
		return Tokens{}, e.refreshFailure(ctx, op, err)
	}

	e.metrics.Refresh("ok")
	return tokensFrom(iss, summarize(user)), nil
}

func (e *Engine) refreshFailure(ctx context.Context, op string, err error) error {
	var rev session.RevokedError
	if errors.As(err, &rev) {
		reason := "invalid_refresh"
		switch {
		case errors.Is(err, session.ErrReuseOrExpired):
			reason = "refresh_reuse_or_expired"
		case errors.Is(err, session.ErrSessionNotFound):
			reason = "user_not_found"
		}
		e.revoked(ctx, rev.UserID, rev.SessionID, reason)
	}

	switch {
	case errors.Is(err, session.ErrMissingToken):
		e.metrics.Refresh("missing")
		return fail(op, ErrMissingToken, nil)
	case errors.Is(err, session.ErrInvalidRefreshToken):
		e.metrics.Refresh("invalid")
		return fail(op, ErrInvalidOrExpiredRefreshToken, nil)
	case errors.Is(err, session.ErrSessionNotFound):
		e.metrics.Refresh("session_not_found")
		return fail(op, ErrSessionNotFound, nil)
	case errors.Is(err, session.ErrReuseOrExpired):
		e.metrics.Refresh("reuse_or_expired")
		e.log.WarnContext(ctx, "auth.refresh.reuse_or_expired", "user_id", rev.UserID, "session_id", rev.SessionID)
		e.alertAsync(ctx, "Refresh token reuse detected",
			"Session "+rev.SessionID+" of user "+rev.UserID+" presented a superseded or expired refresh token and was revoked.")
		return fail(op, ErrReuseOrExpired, nil)
	default:
		e.metrics.Refresh("error")
		return storage(op, err)
	}
}

// Logout deletes the caller's session and marks them offline. A session that
// does not exist or belongs to someone else is ErrSessionNotFound.
func (e *Engine) Logout(ctx context.Context, sessionID, callerUserID string) error {
	const op = "auth.Logout"

	err := e.sessions.RevokeSession(ctx, e.now(), sessionID, callerUserID)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionNotFound), identity.IsNotFound(err):
		return fail(op, ErrSessionNotFound, nil)
	default:
		return storage(op, err)
	}

	e.metrics.Logout()
	e.log.InfoContext(ctx, "auth.logout.ok", "user_id", callerUserID, "session_id", sessionID)
	e.revoked(ctx, callerUserID, sessionID, "logout")
	return nil
}
