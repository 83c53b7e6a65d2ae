package authapi

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"medauth/cmd/identity"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	// UniformCredentialErrors answers unknown email, role mismatch and bad
	// password with the same 401, and makes forgetPassword answer 200 for
	// unknown emails.
	UniformCredentialErrors bool

	// RegisterRoles are the roles self-registration may request.
	RegisterRoles []identity.Role

	// Token-bucket limits. Burst is the bucket size, Window the time to refill it.
	LoginIPBurst     int
	LoginIPWindow    time.Duration
	LoginEmailBurst  int
	LoginEmailWindow time.Duration
	OTPEmailBurst    int
	OTPEmailWindow   time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:            1 << 20,
		CookieName:              "refreshToken",
		CookiePath:              "/",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteStrictMode,
		UniformCredentialErrors: true,
		RegisterRoles:           append([]identity.Role(nil), identity.Roles...),
		LoginIPBurst:            20,
		LoginIPWindow:           5 * time.Minute,
		LoginEmailBurst:         5,
		LoginEmailWindow:        15 * time.Minute,
		OTPEmailBurst:           3,
		OTPEmailWindow:          15 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth API config from MEDAUTH_* variables over the
// defaults. Malformed numbers fall back to the default; a malformed role list
// or SameSite value is an error.
func LoadConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:              envBool("MEDAUTH_TRUST_PROXY", false),
		MaxBodyBytes:            envInt64("MEDAUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		CookieName:              envString("MEDAUTH_COOKIE_NAME", def.CookieName),
		CookiePath:              envString("MEDAUTH_COOKIE_PATH", def.CookiePath),
		CookieDomain:            strings.TrimSpace(os.Getenv("MEDAUTH_COOKIE_DOMAIN")),
		CookieSecure:            envBool("MEDAUTH_COOKIE_SECURE", def.CookieSecure),
		CookieSameSite:          def.CookieSameSite,
		UniformCredentialErrors: envBool("MEDAUTH_UNIFORM_CREDENTIAL_ERRORS", def.UniformCredentialErrors),
		RegisterRoles:           def.RegisterRoles,
		LoginIPBurst:            envInt("MEDAUTH_RATE_LOGIN_IP_BURST", def.LoginIPBurst),
		LoginIPWindow:           envDuration("MEDAUTH_RATE_LOGIN_IP_WINDOW", def.LoginIPWindow),
		LoginEmailBurst:         envInt("MEDAUTH_RATE_LOGIN_EMAIL_BURST", def.LoginEmailBurst),
		LoginEmailWindow:        envDuration("MEDAUTH_RATE_LOGIN_EMAIL_WINDOW", def.LoginEmailWindow),
		OTPEmailBurst:           envInt("MEDAUTH_RATE_OTP_EMAIL_BURST", def.OTPEmailBurst),
		OTPEmailWindow:          envDuration("MEDAUTH_RATE_OTP_EMAIL_WINDOW", def.OTPEmailWindow),
	}

	if v := strings.TrimSpace(os.Getenv("MEDAUTH_COOKIE_SAMESITE")); v != "" {
		ss, err := parseSameSite(v)
		if err != nil {
			return Config{}, err
		}
		cfg.CookieSameSite = ss
	}

	if v := strings.TrimSpace(os.Getenv("MEDAUTH_REGISTER_ALLOWED_ROLES")); v != "" {
		roles, err := parseRoles(v)
		if err != nil {
			return Config{}, err
		}
		cfg.RegisterRoles = roles
	}

	return cfg, nil
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("MEDAUTH_COOKIE_SAMESITE: unknown value %q", v)
	}
}

func parseRoles(v string) ([]identity.Role, error) {
	var out []identity.Role
	for _, part := range strings.Split(v, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := identity.ParseRole(part)
		if err != nil {
			return nil, fmt.Errorf("MEDAUTH_REGISTER_ALLOWED_ROLES: %w", err)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("MEDAUTH_REGISTER_ALLOWED_ROLES: no roles listed")
	}
	return out, nil
}

func (c Config) registerAllowed(r identity.Role) bool {
	for _, allowed := range c.RegisterRoles {
		if allowed == r {
			return true
		}
	}
	return false
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
