package app

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DatabaseURL selects Postgres; empty runs on in-memory stores.
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, MEDAUTH_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and stored
	// refresh digests are keyed.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// SMTP delivery for reset codes and operator alerts. Without SMTPHost the
	// notifier only logs.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	AdminEmail   string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MEDAUTH_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MEDAUTH_LOG_LEVEL", "info"),
		LogFormat: EnvString("MEDAUTH_LOG_FORMAT", "json"),
		LogColor:  EnvBool("MEDAUTH_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("MEDAUTH_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MEDAUTH_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MEDAUTH_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MEDAUTH_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("MEDAUTH_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("MEDAUTH_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("MEDAUTH_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("MEDAUTH_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("MEDAUTH_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("MEDAUTH_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("MEDAUTH_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvCSV("MEDAUTH_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("MEDAUTH_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("MEDAUTH_CORS_MAX_AGE_SECONDS", 600),

		SMTPHost:     EnvString("MEDAUTH_SMTP_HOST", ""),
		SMTPPort:     EnvInt("MEDAUTH_SMTP_PORT", 587),
		SMTPUsername: EnvString("MEDAUTH_SMTP_USERNAME", ""),
		SMTPPassword: os.Getenv("MEDAUTH_SMTP_PASSWORD"),
		SMTPFrom:     EnvString("MEDAUTH_SMTP_FROM", ""),
		AdminEmail:   EnvString("MEDAUTH_ADMIN_EMAIL", ""),
	}
}

// DefaultDotEnvFiles are loaded by Run, most specific first.
var DefaultDotEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads the given files into the process environment. Missing files
// are skipped; variables already set are never overridden, so the first file
// naming a key wins.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
	}
	return nil
}
