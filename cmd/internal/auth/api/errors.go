package authapi

import (
	"errors"
	"net/http"

	"medauth/cmd/internal/auth"
	"medauth/cmd/security/password"
)

// flow selects the status mapping where the same kind means different things
// on different routes.
type flow int

const (
	flowDefault flow = iota
	flowLogin
	flowRefresh
	flowLogout
	flowVerifyOtp
	flowResetPassword
)

const (
	msgRefreshRejected  = "Session expired or token invalid, please login again"
	msgUnavailable      = "Service temporarily unavailable, please try again later"
	msgUniformBadLogin  = "Invalid email or password"
	msgUnknownEmail     = "Specific Email is not registered yet, please register first"
	msgForgetPasswordOK = "If the email is registered, an OTP has been sent to it"
)

type httpError struct {
	status  int
	code    string
	message string
}

// mapError turns an engine error into its stable HTTP answer. Raw causes never
// reach the client.
func (h *Handler) mapError(f flow, role string, err error) httpError {
	uniform := h.cfg.UniformCredentialErrors

	switch auth.KindOf(err) {
	case auth.ErrDuplicateEmail:
		return httpError{http.StatusConflict, "duplicate_email", "Email already exists"}

	case auth.ErrUnknownEmail:
		switch {
		case uniform && f == flowLogin:
			return httpError{http.StatusUnauthorized, "invalid_credentials", msgUniformBadLogin}
		case uniform && f == flowVerifyOtp:
			return httpError{http.StatusBadRequest, "invalid_otp", "Invalid OTP"}
		case uniform && f == flowResetPassword:
			return httpError{http.StatusBadRequest, "otp_not_verified", "OTP not verified"}
		}
		return httpError{http.StatusBadRequest, "unknown_email", msgUnknownEmail}

	case auth.ErrRoleMismatch:
		if uniform {
			return httpError{http.StatusUnauthorized, "invalid_credentials", msgUniformBadLogin}
		}
		return httpError{http.StatusUnauthorized, "role_mismatch", role + " login only"}

	case auth.ErrBadCredentials:
		if uniform {
			return httpError{http.StatusUnauthorized, "invalid_credentials", msgUniformBadLogin}
		}
		return httpError{http.StatusUnauthorized, "invalid_credentials", "Password invalid"}

	case auth.ErrMissingToken:
		return httpError{http.StatusUnauthorized, "missing_refresh_token", "Refresh token not found, please login again"}

	case auth.ErrInvalidOrExpiredRefreshToken, auth.ErrReuseOrExpired:
		return httpError{http.StatusUnauthorized, "invalid_refresh_token", msgRefreshRejected}

	case auth.ErrSessionNotFound:
		if f == flowLogout {
			return httpError{http.StatusNotFound, "session_not_found", "Session not found"}
		}
		return httpError{http.StatusUnauthorized, "session_not_found", "Session not found, please login again"}

	case auth.ErrOtpMismatch:
		return httpError{http.StatusBadRequest, "invalid_otp", "Invalid OTP"}
	case auth.ErrOtpExpired:
		return httpError{http.StatusBadRequest, "otp_expired", "OTP expired, please request a new one"}
	case auth.ErrOtpNotVerified:
		return httpError{http.StatusBadRequest, "otp_not_verified", "OTP not verified"}

	case auth.ErrInvalidInput:
		return httpError{http.StatusBadRequest, "invalid_request", invalidInputMessage(err)}

	case auth.ErrUserNotFound:
		return httpError{http.StatusNotFound, "user_not_found", "User not found"}

	case auth.ErrNotifierUnavailable:
		return httpError{http.StatusServiceUnavailable, "notifier_unavailable", "Could not send the OTP, please try again later"}

	default:
		return httpError{http.StatusServiceUnavailable, "storage_unavailable", msgUnavailable}
	}
}

func invalidInputMessage(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "Password is too short"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "Password is too long"
	case errors.Is(err, password.ErrWeakPassword):
		return "Password is too weak"
	default:
		return "Invalid request"
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, f flow, role string, err error) {
	he := h.mapError(f, role, err)
	if he.status >= 500 {
		h.log.ErrorContext(r.Context(), "auth.api.fail", "path", r.URL.Path, "err", err)
	}
	writeError(w, he.status, he.code, he.message)
}
