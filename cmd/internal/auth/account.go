package auth

import (
	"context"
	"errors"

	"medauth/cmd/identity"
	"medauth/cmd/internal/auth/session"
	"medauth/cmd/security/password"
	"medauth/cmd/security/token"
)

// RegisterInput is a registration request. Role defaults to PATIENT.
type RegisterInput struct {
	FullName string
	Email    string
	Phone    *string
	Password string
	Role     identity.Role
}

// Register creates an account. It does not log the user in.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (UserSummary, error) {
	const op = "auth.Register"

	if in.Role == "" {
		in.Role = identity.RolePatient
	}
	if !in.Role.Valid() {
		return UserSummary{}, fail(op, ErrInvalidInput, errors.New("unknown role"))
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		if password.IsPolicyError(err) {
			return UserSummary{}, fail(op, ErrInvalidInput, err)
		}
		return UserSummary{}, storage(op, err)
	}

	u, err := e.users.CreateUser(ctx, identity.CreateUserInput{
		FullName:     in.FullName,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		Role:         in.Role,
		Now:          e.now(),
	})
	switch {
	case err == nil:
	case identity.IsConflict(err, "email"):
		return UserSummary{}, fail(op, ErrDuplicateEmail, nil)
	case identity.IsInvalidInput(err):
		return UserSummary{}, fail(op, ErrInvalidInput, err)
	default:
		return UserSummary{}, storage(op, err)
	}

	e.log.InfoContext(ctx, "auth.register.ok", "user_id", u.ID, "role", u.Role)
	return summarize(u), nil
}

// LoginInput is a role-scoped login request.
type LoginInput struct {
	Email    string
	Password string
	Role     identity.Role
	Device   session.DeviceContext
}

// Login verifies credentials for the requested role and opens a session.
//
// Failure order: unknown email, role mismatch, bad password. An unknown email
// still pays for one hash verification.
func (e *Engine) Login(ctx context.Context, in LoginInput) (Tokens, error) {
	const op = "auth.Login"
	role := string(in.Role)

	u, err := e.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if identity.IsNotFound(err) {
			_ = e.hasher.Matches(e.dummyHash, in.Password)
			e.metrics.Login(role, "unknown_email")
			return Tokens{}, fail(op, ErrUnknownEmail, nil)
		}
		e.metrics.Login(role, "error")
		return Tokens{}, storage(op, err)
	}

	if u.Role != in.Role {
		e.metrics.Login(role, "role_mismatch")
		e.log.InfoContext(ctx, "auth.login.fail", "reason", "role_mismatch", "user_id", u.ID, "requested_role", role)
		return Tokens{}, fail(op, ErrRoleMismatch, nil)
	}

	if !e.hasher.Matches(u.PasswordHash, in.Password) {
		e.metrics.Login(role, "bad_credentials")
		e.log.InfoContext(ctx, "auth.login.fail", "reason", "bad_credentials", "user_id", u.ID)
		return Tokens{}, fail(op, ErrBadCredentials, nil)
	}

	iss, err := e.sessions.IssueSession(ctx, e.now(), token.Claims{
		UserID: u.ID,
		Role:   string(u.Role),
		Email:  u.Email,
	}, in.Device)
	if err != nil {
		e.metrics.Login(role, "error")
		return Tokens{}, storage(op, err)
	}

	e.metrics.Login(role, "ok")
	e.log.InfoContext(ctx, "auth.login.ok", "user_id", u.ID, "session_id", iss.Session.ID)
	return tokensFrom(iss, summarize(u)), nil
}

