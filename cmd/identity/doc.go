// Package identity owns medauth's user records: registration data, role, the
// presence flag (is_online / last_active_at) and the pending password-reset OTP.
//
// Password hashing lives in cmd/security/password; this package only stores the
// encoded digest. Sessions live in cmd/internal/auth/session.
package identity
