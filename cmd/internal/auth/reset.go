package auth

import (
	"context"
	"fmt"
	"strings"

	"medauth/cmd/identity"
	"medauth/cmd/security/otp"
	"medauth/cmd/security/password"
)

// ForgetPassword issues a reset code and sends it to the account's email.
// A delivery failure alerts the operator and returns ErrNotifierUnavailable.
// The stored code is kept; the next ForgetPassword replaces it.
func (e *Engine) ForgetPassword(ctx context.Context, email string) error {
	const op = "auth.ForgetPassword"

	u, err := e.lookup(ctx, op, email)
	if err != nil {
		e.metrics.OTP("send", "unknown_email")
		return err
	}

	code, err := otp.Generate(e.cfg.OTPDigits)
	if err != nil {
		return storage(op, err)
	}

	now := e.now()
	if err := e.users.SetOTP(ctx, u.ID, code, now.Add(e.cfg.OTPTTL), now); err != nil {
		return storage(op, err)
	}

	if err := e.notifier.SendOTP(ctx, u.Email, code, e.cfg.OTPTTL); err != nil {
		e.metrics.OTP("send", "notifier_error")
		e.log.ErrorContext(ctx, "auth.otp.send.fail", "user_id", u.ID, "err", err)
		msg := fmt.Sprintf("Could not deliver a password reset OTP for user %s: %v", u.ID, err)
		e.alertAsync(ctx, "OTP delivery failed", msg)
		return fail(op, ErrNotifierUnavailable, err)
	}

	e.metrics.OTP("send", "ok")
	e.log.InfoContext(ctx, "auth.otp.sent", "user_id", u.ID)
	return nil
}

// VerifyOtp checks a submitted reset code. Mismatch is reported before expiry,
// and a missing code counts as a mismatch.
func (e *Engine) VerifyOtp(ctx context.Context, email, code string) error {
	const op = "auth.VerifyOtp"

	u, err := e.lookup(ctx, op, email)
	if err != nil {
		e.metrics.OTP("verify", "unknown_email")
		return err
	}

	if u.OTP == nil || !otp.Equal(*u.OTP, strings.TrimSpace(code)) {
		e.metrics.OTP("verify", "mismatch")
		return fail(op, ErrOtpMismatch, nil)
	}
	now := e.now()
	if u.OTPExpiresAt == nil || !now.Before(*u.OTPExpiresAt) {
		e.metrics.OTP("verify", "expired")
		return fail(op, ErrOtpExpired, nil)
	}

	if err := e.users.MarkOTPVerified(ctx, u.ID, now); err != nil {
		return storage(op, err)
	}
	e.metrics.OTP("verify", "ok")
	return nil
}

// ResetPassword sets a new password after a verified, unexpired OTP. All of the
// user's sessions are revoked in the same transaction.
func (e *Engine) ResetPassword(ctx context.Context, email, newPassword string) error {
	const op = "auth.ResetPassword"

	u, err := e.lookup(ctx, op, email)
	if err != nil {
		e.metrics.OTP("reset", "unknown_email")
		return err
	}

	now := e.now()
	if !u.OTPVerified || u.OTP == nil || u.OTPExpiresAt == nil || !now.Before(*u.OTPExpiresAt) {
		e.metrics.OTP("reset", "not_verified")
		return fail(op, ErrOtpNotVerified, nil)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		if password.IsPolicyError(err) {
			return fail(op, ErrInvalidInput, err)
		}
		return storage(op, err)
	}

	revoked, err := e.sessions.ResetCredentials(ctx, now, u.ID, hash)
	if err != nil {
		return storage(op, err)
	}

	for _, sid := range revoked {
		e.revoked(ctx, u.ID, sid, "password_reset")
	}
	e.metrics.OTP("reset", "ok")
	e.log.InfoContext(ctx, "auth.password.reset", "user_id", u.ID, "sessions_revoked", len(revoked))
	return nil
}

func (e *Engine) lookup(ctx context.Context, op, email string) (identity.User, error) {
	u, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, fail(op, ErrUnknownEmail, nil)
		}
		return identity.User{}, storage(op, err)
	}
	return u, nil
}
