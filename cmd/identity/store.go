package identity

import (
	"context"
	"strings"
	"time"
)

// User is medauth's security principal.
// PasswordHash holds an encoded argon2id digest, never the plain password.
type User struct {
	ID           string
	FullName     string
	Email        string
	EmailNorm    string
	Phone        *string
	PasswordHash string
	Role         Role

	IsOnline     bool
	LastActiveAt *time.Time

	// Pending password-reset state. OTP is nil when no reset is in progress.
	OTP          *string
	OTPExpiresAt *time.Time
	OTPVerified  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes a registration. The password is hashed by the caller.
type CreateUserInput struct {
	FullName     string
	Email        string
	Phone        *string
	PasswordHash string
	Role         Role
	Now          time.Time
}

// Store is the user persistence boundary.
//
// Lookups by email normalize the argument with NormalizeEmail. Missing users are
// reported as NotFoundError; duplicate emails as ConflictError{Field: "email"}.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)

	// SetOTP stores a pending reset code and clears the verified flag.
	SetOTP(ctx context.Context, userID, code string, expiresAt, now time.Time) error
	// MarkOTPVerified sets the verified flag on the pending code.
	MarkOTPVerified(ctx context.Context, userID string, now time.Time) error
	// ResetPassword replaces the digest and clears all OTP fields.
	ResetPassword(ctx context.Context, userID, passwordHash string, now time.Time) error

	// SetOnline sets is_online and last_active_at.
	SetOnline(ctx context.Context, userID string, online bool, at time.Time) error
	// TouchActivity bumps last_active_at of an online user and is a no-op otherwise.
	TouchActivity(ctx context.Context, userID string, at time.Time) error
	// MarkInactiveOffline flips online users whose last_active_at is before cutoff.
	MarkInactiveOffline(ctx context.Context, cutoff, now time.Time) (int64, error)
	// CountOnline returns the number of users currently flagged online.
	CountOnline(ctx context.Context) (int64, error)
}

func validateCreate(op string, in CreateUserInput) (CreateUserInput, string, error) {
	in.FullName = NormalizeFullName(in.FullName)
	norm := NormalizeEmail(in.Email)

	switch {
	case in.FullName == "":
		return in, "", invalid(op, "full name is required")
	case norm == "":
		return in, "", invalid(op, "email is required")
	case in.PasswordHash == "":
		return in, "", invalid(op, "password hash is required")
	}
	if in.Role == "" {
		in.Role = RolePatient
	}
	if !in.Role.Valid() {
		return in, "", invalid(op, "invalid role")
	}
	if in.Phone != nil {
		p := strings.TrimSpace(*in.Phone)
		if p == "" {
			in.Phone = nil
		} else {
			in.Phone = &p
		}
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}
	return in, norm, nil
}
