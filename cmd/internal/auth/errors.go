package auth

import (
	"errors"
	"fmt"
)

// Error kinds. Each maps to one stable HTTP status and message in auth/api.
var (
	ErrDuplicateEmail = errors.New("duplicate email")
	ErrUnknownEmail   = errors.New("unknown email")
	ErrRoleMismatch   = errors.New("role mismatch")
	ErrBadCredentials = errors.New("bad credentials")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUserNotFound   = errors.New("user not found")

	ErrMissingToken                 = errors.New("missing refresh token")
	ErrInvalidOrExpiredRefreshToken = errors.New("invalid or expired refresh token")
	ErrSessionNotFound              = errors.New("session not found")
	ErrReuseOrExpired               = errors.New("refresh token reuse or expired session")

	ErrOtpMismatch    = errors.New("otp mismatch")
	ErrOtpExpired     = errors.New("otp expired")
	ErrOtpNotVerified = errors.New("otp not verified")

	ErrNotifierUnavailable = errors.New("notifier unavailable")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// Error is an engine failure: Op names the flow, Kind is one of the Err* values
// and Err is the underlying cause, if any. Both Kind and Err match errors.Is.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind of an engine error, or nil for anything else.
func KindOf(err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return nil
}

func fail(op string, kind error, cause error) error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

func storage(op string, cause error) error {
	return &Error{Op: op, Kind: ErrStorageUnavailable, Err: cause}
}
