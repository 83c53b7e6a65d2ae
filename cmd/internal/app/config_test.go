package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"MEDAUTH_HTTP_ADDR", "MEDAUTH_LOG_FORMAT", "MEDAUTH_DATABASE_URL",
		"MEDAUTH_CORS_ALLOWED_ORIGINS", "MEDAUTH_CORS_ALLOW_CREDENTIALS", "MEDAUTH_SMTP_PORT",
	} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Nil(t, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.CORSAllowCredentials)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.Equal(t, int32(10), cfg.DBMaxConns)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("MEDAUTH_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("MEDAUTH_HTTP_READ_TIMEOUT", "3s")
	t.Setenv("MEDAUTH_DB_MAX_CONNS", "25")
	t.Setenv("MEDAUTH_DB_AUTO_MIGRATE", "true")
	t.Setenv("MEDAUTH_CORS_ALLOWED_ORIGINS", " https://a.example.com, ,http://127.0.0.1:* ")
	t.Setenv("MEDAUTH_SMTP_PORT", "not-a-number")

	cfg := LoadConfig()
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, int32(25), cfg.DBMaxConns)
	assert.True(t, cfg.DBAutoMigrate)
	assert.Equal(t, []string{"https://a.example.com", "http://127.0.0.1:*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 587, cfg.SMTPPort)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env.local")
	base := filepath.Join(dir, ".env")

	require.NoError(t, os.WriteFile(local, []byte("MEDAUTH_TEST_A=local\n"), 0o600))
	require.NoError(t, os.WriteFile(base, []byte("MEDAUTH_TEST_A=base\nMEDAUTH_TEST_B=base\nMEDAUTH_TEST_C=base\n"), 0o600))

	t.Setenv("MEDAUTH_TEST_A", "")
	t.Setenv("MEDAUTH_TEST_B", "")
	t.Setenv("MEDAUTH_TEST_C", "process")
	os.Unsetenv("MEDAUTH_TEST_A")
	os.Unsetenv("MEDAUTH_TEST_B")

	require.NoError(t, LoadDotEnv(local, filepath.Join(dir, "missing.env"), base))

	assert.Equal(t, "local", os.Getenv("MEDAUTH_TEST_A"))
	assert.Equal(t, "base", os.Getenv("MEDAUTH_TEST_B"))
	assert.Equal(t, "process", os.Getenv("MEDAUTH_TEST_C"))
}

func TestLoadDotEnv_MalformedFile(t *testing.T) {
	bad := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(bad, []byte("MEDAUTH_TEST_D='unterminated\n"), 0o600))

	assert.Error(t, LoadDotEnv(bad))
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Setenv("MEDAUTH_TOKEN_HMAC_KEY", "")
	assert.NoError(t, ValidateSecurityConfig(Config{}))
	assert.Error(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}))

	t.Setenv("MEDAUTH_TOKEN_HMAC_KEY", "0123456789abcdef0123456789abcdef")
	assert.NoError(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}))

	t.Setenv("MEDAUTH_TOKEN_HMAC_KEY", "short")
	assert.Error(t, ValidateSecurityConfig(Config{}))
}
