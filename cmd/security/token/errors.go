package token

import "errors"

var (
	// ErrExpired means the token was well-formed and signed but its exp has passed.
	ErrExpired = errors.New("token expired")
	// ErrMalformed covers undecodable tokens, bad signatures, wrong algorithms and wrong key classes.
	ErrMalformed = errors.New("token malformed")
	// ErrNotYetValid means nbf or iat lies in the future.
	ErrNotYetValid = errors.New("token not yet valid")

	// ErrSignerConfig is returned by NewSigner for unusable secrets or lifetimes.
	ErrSignerConfig = errors.New("invalid token signer config")

	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)
