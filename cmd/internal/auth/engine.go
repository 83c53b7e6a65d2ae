package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"medauth/cmd/identity"
	"medauth/cmd/internal/auth/session"
	"medauth/cmd/internal/metrics"
	"medauth/cmd/internal/notify"
	"medauth/cmd/security/otp"
	"medauth/cmd/security/password"
)

// Config holds engine tunables.
type Config struct {
	// OTPTTL is how long a reset code stays valid.
	OTPTTL time.Duration
	// OTPDigits is the reset code length.
	OTPDigits int
	// AlertCooldown is the minimum gap between two operator alerts with the
	// same subject.
	AlertCooldown time.Duration
}

// DefaultConfig returns a 10 minute, 6 digit OTP policy and a one minute
// alert cooldown.
func DefaultConfig() Config {
	return Config{OTPTTL: 10 * time.Minute, OTPDigits: otp.DefaultDigits, AlertCooldown: defaultAlertCooldown}
}

// ConfigFromEnv reads MEDAUTH_OTP_TTL, MEDAUTH_OTP_DIGITS and
// MEDAUTH_ALERT_COOLDOWN over the defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("MEDAUTH_OTP_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute || d > 24*time.Hour {
			return Config{}, fmt.Errorf("MEDAUTH_OTP_TTL must be a duration between 1m and 24h")
		}
		cfg.OTPTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("MEDAUTH_OTP_DIGITS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 4 || n > 10 {
			return Config{}, fmt.Errorf("MEDAUTH_OTP_DIGITS must be between 4 and 10")
		}
		cfg.OTPDigits = n
	}
	if v := strings.TrimSpace(os.Getenv("MEDAUTH_ALERT_COOLDOWN")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("MEDAUTH_ALERT_COOLDOWN must be a positive duration")
		}
		cfg.AlertCooldown = d
	}
	return cfg, nil
}

// Deps are the engine's collaborators. Users, Sessions and Hasher are required.
type Deps struct {
	Users     identity.Store
	Sessions  *session.Service
	Hasher    password.Config
	Notifier  notify.Notifier
	Publisher Publisher
	Metrics   *metrics.Metrics
	Log       *slog.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Engine runs the account flows.
type Engine struct {
	cfg       Config
	users     identity.Store
	sessions  *session.Service
	hasher    password.Config
	notifier  notify.Notifier
	publisher Publisher
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
	alerts    *alerter

	// dummyHash is verified against when the email is unknown so both login
	// failure paths spend one argon2 evaluation.
	dummyHash string
}

// New validates deps and returns an Engine.
func New(cfg Config, d Deps) (*Engine, error) {
	if d.Users == nil || d.Sessions == nil {
		return nil, errors.New("auth: users and sessions are required")
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = DefaultConfig().OTPTTL
	}
	if cfg.OTPDigits == 0 {
		cfg.OTPDigits = otp.DefaultDigits
	}
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	if d.Publisher == nil {
		d.Publisher = NopPublisher{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}

	dummy, err := d.Hasher.Hash("medauth-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("auth: dummy hash: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		users:     d.Users,
		sessions:  d.Sessions,
		hasher:    d.Hasher,
		notifier:  d.Notifier,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
		alerts:    newAlerter(d.Notifier, d.Log, cfg.AlertCooldown),
		dummyHash: dummy,
	}, nil
}

// UserSummary is the public view of a user.
type UserSummary struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// SessionSummary is returned by login and refresh.
type SessionSummary struct {
	ID         string      `json:"id"`
	DeviceName *string     `json:"deviceName"`
	User       UserSummary `json:"user"`
}

// Tokens is the result of login and refresh. The refresh token travels in a cookie.
type Tokens struct {
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
	Session      SessionSummary
}

func summarize(u identity.User) UserSummary {
	return UserSummary{ID: u.ID, FullName: u.FullName, Email: u.Email, Role: string(u.Role)}
}

func tokensFrom(iss session.Issued, u UserSummary) Tokens {
	return Tokens{
		AccessToken:  iss.AccessToken,
		AccessExp:    iss.AccessExp,
		RefreshToken: iss.RefreshToken,
		RefreshExp:   iss.RefreshExp,
		Session: SessionSummary{
			ID:         iss.Session.ID,
			DeviceName: iss.Session.DeviceName,
			User:       u,
		},
	}
}

// Me returns the summary of an existing user.
func (e *Engine) Me(ctx context.Context, userID string) (UserSummary, error) {
	const op = "auth.Me"
	u, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return UserSummary{}, fail(op, ErrUserNotFound, nil)
		}
		return UserSummary{}, storage(op, err)
	}
	return summarize(u), nil
}

// OnlineCount reports how many users are flagged online.
func (e *Engine) OnlineCount(ctx context.Context) (int64, error) {
	n, err := e.users.CountOnline(ctx)
	if err != nil {
		return 0, storage("auth.OnlineCount", err)
	}
	return n, nil
}

// TouchActivity records activity for an online user. Callers are the realtime
// heartbeat and authenticated requests.
func (e *Engine) TouchActivity(ctx context.Context, userID string) error {
	return e.users.TouchActivity(ctx, userID, e.now())
}

func (e *Engine) revoked(ctx context.Context, userID, sessionID, reason string) {
	e.publisher.Publish(ctx, Event{
		Type:      EventSessionRevoked,
		UserID:    userID,
		SessionID: sessionID,
		Reason:    reason,
		At:        e.now(),
	})
}

// alertAsync notifies the operator without holding up the request.
func (e *Engine) alertAsync(ctx context.Context, subject, message string) {
	e.alerts.send(ctx, e.now(), subject, message)
}
