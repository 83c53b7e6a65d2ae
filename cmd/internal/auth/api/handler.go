package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"medauth/cmd/identity"
	"medauth/cmd/internal/auth"
	"medauth/cmd/internal/auth/session"
)

// Service is the engine surface the HTTP layer drives. *auth.Engine satisfies it.
type Service interface {
	Register(ctx context.Context, in auth.RegisterInput) (auth.UserSummary, error)
	Login(ctx context.Context, in auth.LoginInput) (auth.Tokens, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (auth.Tokens, error)
	Logout(ctx context.Context, sessionID, callerUserID string) error
	ForgetPassword(ctx context.Context, email string) error
	VerifyOtp(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, newPassword string) error
	Me(ctx context.Context, userID string) (auth.UserSummary, error)
	OnlineCount(ctx context.Context) (int64, error)
	TouchActivity(ctx context.Context, userID string) error
}

// Handler wires HTTP auth endpoints to the engine.
type Handler struct {
	log   *slog.Logger
	cfg   Config
	svc   Service
	gate  *Gatekeeper
	audit Auditor
	now   func() time.Time

	loginIP    *keyedLimiter
	loginEmail *keyedLimiter
	otpEmail   *keyedLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor records security events through a.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

// WithClock overrides time.Now for rate limiting and cookies.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
			h.gate.now = now
		}
	}
}

// NewHandler constructs a Handler. svc and verifier are required.
func NewHandler(log *slog.Logger, svc Service, verifier Verifier, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil || verifier == nil {
		return nil, errors.New("authapi: service and verifier are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = DefaultConfig().CookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}

	h := &Handler{
		log:        log,
		cfg:        cfg,
		svc:        svc,
		gate:       NewGatekeeper(verifier),
		audit:      NopAuditor{},
		now:        func() time.Time { return time.Now().UTC() },
		loginIP:    newKeyedLimiter(cfg.LoginIPBurst, cfg.LoginIPWindow),
		loginEmail: newKeyedLimiter(cfg.LoginEmailBurst, cfg.LoginEmailWindow),
		otpEmail:   newKeyedLimiter(cfg.OTPEmailBurst, cfg.OTPEmailWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Gatekeeper returns the access-token gate used by protected routes.
func (h *Handler) Gatekeeper() *Gatekeeper { return h.gate }

// Register wires auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/patientLogin", h.login(identity.RolePatient))
	mux.HandleFunc("POST /auth/doctorLogin", h.login(identity.RoleDoctor))
	mux.HandleFunc("POST /auth/adminLogin", h.login(identity.RoleAdmin))
	mux.HandleFunc("POST /auth/refreshAccessToken", h.handleRefresh)
	mux.HandleFunc("POST /auth/forgetPassword", h.handleForgetPassword)
	mux.HandleFunc("POST /auth/verifyOtp", h.handleVerifyOtp)
	mux.HandleFunc("POST /auth/resetPassword", h.handleResetPassword)

	mux.Handle("POST /auth/logout", h.authed(http.HandlerFunc(h.handleLogout)))
	mux.Handle("GET /auth/me", h.authed(http.HandlerFunc(h.handleMe)))
	mux.Handle("GET /admin/users/online", h.authed(RequireRole(identity.RoleAdmin)(http.HandlerFunc(h.handleOnlineCount))))
}

// authed runs RequireAuth and records activity for the caller.
func (h *Handler) authed(next http.Handler) http.Handler {
	return h.gate.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := ClaimsFromContext(r.Context()); ok {
			if err := h.svc.TouchActivity(r.Context(), c.UserID); err != nil {
				h.log.WarnContext(r.Context(), "auth.activity.touch.fail", "user_id", c.UserID, "err", err)
			}
		}
		next.ServeHTTP(w, r)
	}))
}

// decodeValid decodes the body into req and runs its validation rules. It
// writes the error response and returns false on failure.
func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, req interface{ Validate() error }) bool {
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, req); err != nil {
		writeDecodeError(w, err)
		return false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func (h *Handler) entry(r *http.Request, action string) AuditEntry {
	return AuditEntry{
		Action:    action,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: r.UserAgent(),
		RequestID: r.Header.Get("X-Request-ID"),
	}
}

// limited checks each (limiter, key) pair in order and answers 429 on the first
// exhausted bucket.
func (h *Handler) limited(w http.ResponseWriter, r *http.Request, now time.Time, checks ...limitCheck) bool {
	for _, c := range checks {
		if ok, retry := c.lim.allow(c.key, now); !ok {
			e := h.entry(r, auditLoginLimited)
			e.Meta = map[string]any{"path": r.URL.Path, "retry_after_s": int64(retry.Seconds())}
			h.audit.Record(r.Context(), e)
			writeRateLimited(w, retry)
			return true
		}
	}
	return false
}

type limitCheck struct {
	lim *keyedLimiter
	key string
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	role := identity.RolePatient
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := identity.ParseRole(req.Role)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "role: must be one of PATIENT, DOCTOR, ADMIN.")
			return
		}
		role = parsed
	}
	if !h.cfg.registerAllowed(role) {
		writeError(w, http.StatusForbidden, "forbidden", "You are not authorized to perform this action")
		return
	}

	u, err := h.svc.Register(r.Context(), auth.RegisterInput{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		h.writeEngineError(w, r, flowDefault, "", err)
		return
	}

	e := h.entry(r, auditRegister)
	e.UserID = u.ID
	e.Meta = map[string]any{"role": u.Role}
	h.audit.Record(r.Context(), e)
	writeMessage(w, http.StatusCreated, "User created successfully")
}

func (h *Handler) login(role identity.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !h.decodeValid(w, r, &req) {
			return
		}

		now := h.now()
		ip := clientIP(r, h.cfg.TrustProxy)
		email := identity.NormalizeEmail(req.Email)
		if h.limited(w, r, now, limitCheck{h.loginIP, ipKey(ip)}, limitCheck{h.loginEmail, email}) {
			return
		}

		dev := session.DeviceContext{UserAgent: strings.TrimSpace(r.UserAgent()), IP: ip}
		if req.DeviceName != nil {
			dev.Name = strings.TrimSpace(*req.DeviceName)
		}

		tok, err := h.svc.Login(r.Context(), auth.LoginInput{
			Email:    req.Email,
			Password: req.Password,
			Role:     role,
			Device:   dev,
		})
		if err != nil {
			e := h.entry(r, auditLoginFailed)
			e.Meta = map[string]any{"email": email, "role": string(role), "reason": reasonOf(err)}
			h.audit.Record(r.Context(), e)
			h.writeEngineError(w, r, flowLogin, string(role), err)
			return
		}

		e := h.entry(r, auditLoginSuccess)
		e.UserID, e.SessionID = tok.Session.User.ID, tok.Session.ID
		h.audit.Record(r.Context(), e)

		h.setRefreshCookie(w, tok.RefreshToken, tok.RefreshExp, now)
		writeJSON(w, http.StatusOK, authResponse{
			Message:     "Logged in successfully",
			AccessToken: tok.AccessToken,
			Session:     tok.Session,
		})
	}
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	tok, err := h.svc.RefreshAccessToken(r.Context(), h.refreshTokenFromCookie(r))
	if err != nil {
		e := h.entry(r, auditRefreshRejected)
		e.Meta = map[string]any{"reason": reasonOf(err)}
		h.audit.Record(r.Context(), e)
		if refreshCookieDead(err) {
			h.clearRefreshCookie(w)
		}
		h.writeEngineError(w, r, flowRefresh, "", err)
		return
	}

	e := h.entry(r, auditRefreshSuccess)
	e.UserID, e.SessionID = tok.Session.User.ID, tok.Session.ID
	h.audit.Record(r.Context(), e)

	h.setRefreshCookie(w, tok.RefreshToken, tok.RefreshExp, now)
	writeJSON(w, http.StatusOK, authResponse{
		Message:     "Token refreshed successfully",
		AccessToken: tok.AccessToken,
		Session:     tok.Session,
	})
}

// refreshCookieDead reports whether a refresh failure means the presented
// token can never succeed again. Transient failures keep the cookie.
func refreshCookieDead(err error) bool {
	for _, kind := range []error{
		auth.ErrMissingToken,
		auth.ErrInvalidOrExpiredRefreshToken,
		auth.ErrSessionNotFound,
		auth.ErrReuseOrExpired,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req logoutRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if err := h.svc.Logout(r.Context(), req.SessionID, claims.UserID); err != nil {
		h.writeEngineError(w, r, flowLogout, "", err)
		return
	}

	e := h.entry(r, auditLogout)
	e.UserID, e.SessionID = claims.UserID, req.SessionID
	h.audit.Record(r.Context(), e)

	h.clearRefreshCookie(w)
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (h *Handler) handleForgetPassword(w http.ResponseWriter, r *http.Request) {
	var req forgetPasswordRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	email := identity.NormalizeEmail(req.Email)
	if h.limited(w, r, h.now(), limitCheck{h.loginIP, ipKey(clientIP(r, h.cfg.TrustProxy))}, limitCheck{h.otpEmail, "send:" + email}) {
		return
	}

	err := h.svc.ForgetPassword(r.Context(), req.Email)
	if h.cfg.UniformCredentialErrors && (errors.Is(err, auth.ErrUnknownEmail) || errors.Is(err, auth.ErrNotifierUnavailable)) {
		// The engine has already logged a delivery failure and alerted the operator.
		writeMessage(w, http.StatusOK, msgForgetPasswordOK)
		return
	}
	if err != nil {
		h.writeEngineError(w, r, flowDefault, "", err)
		return
	}

	e := h.entry(r, auditOTPSent)
	e.Meta = map[string]any{"email": email}
	h.audit.Record(r.Context(), e)

	if h.cfg.UniformCredentialErrors {
		writeMessage(w, http.StatusOK, msgForgetPasswordOK)
		return
	}
	writeMessage(w, http.StatusOK, "OTP sent to your email")
}

func (h *Handler) handleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyOtpRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	email := identity.NormalizeEmail(req.Email)
	if h.limited(w, r, h.now(), limitCheck{h.loginIP, ipKey(clientIP(r, h.cfg.TrustProxy))}, limitCheck{h.otpEmail, "verify:" + email}) {
		return
	}

	if err := h.svc.VerifyOtp(r.Context(), req.Email, req.OTP); err != nil {
		h.writeEngineError(w, r, flowVerifyOtp, "", err)
		return
	}

	e := h.entry(r, auditOTPVerified)
	e.Meta = map[string]any{"email": email}
	h.audit.Record(r.Context(), e)
	writeMessage(w, http.StatusOK, "OTP verified successfully")
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decodeValid(w, r, &req) {
		return
	}

	if h.limited(w, r, h.now(), limitCheck{h.loginIP, ipKey(clientIP(r, h.cfg.TrustProxy))}) {
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Email, req.NewPassword); err != nil {
		h.writeEngineError(w, r, flowResetPassword, "", err)
		return
	}

	e := h.entry(r, auditPasswordReset)
	e.Meta = map[string]any{"email": identity.NormalizeEmail(req.Email)}
	h.audit.Record(r.Context(), e)
	writeMessage(w, http.StatusOK, "Password reset successfully")
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	u, err := h.svc.Me(r.Context(), claims.UserID)
	if err != nil {
		h.writeEngineError(w, r, flowDefault, "", err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: u})
}

func (h *Handler) handleOnlineCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.OnlineCount(r.Context())
	if err != nil {
		h.writeEngineError(w, r, flowDefault, "", err)
		return
	}
	writeJSON(w, http.StatusOK, onlineResponse{Count: n})
}

// reasonOf is the audit label for an engine failure.
func reasonOf(err error) string {
	if k := auth.KindOf(err); k != nil {
		return strings.ReplaceAll(k.Error(), " ", "_")
	}
	return "internal"
}
