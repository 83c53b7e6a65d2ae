// Package token is the token signer.
//
// Access and refresh tokens are HS256 JWTs signed with independent secrets, so a
// leaked access secret cannot mint refresh tokens and vice versa. Verification
// reports one of three failure kinds (ErrExpired, ErrMalformed, ErrNotYetValid)
// so callers can choose between "retry" and "login again".
//
// The package also owns refresh-token digests: the value persisted on a session
// row is HMAC-SHA256(token, key) when a key is configured (MEDAUTH_TOKEN_HMAC_KEY),
// SHA-256(token) otherwise. Digests are 64 hex chars and compared in constant time.
package token
