package password

import "errors"

var (
	// Policy violations; IsPolicyError groups them.
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")

	// ErrInvalidHash is returned by Verify for malformed or out-of-bounds digests.
	ErrInvalidHash = errors.New("invalid password hash")
)

// IsPolicyError reports whether err is a rejection of the secret itself, as
// opposed to an internal failure while hashing.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrPasswordTooLong) ||
		errors.Is(err, ErrWeakPassword)
}
