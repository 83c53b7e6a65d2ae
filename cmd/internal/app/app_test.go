package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
		{name: "port only", in: ":8080", want: "http://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://medauth.example.com", want: "wss://medauth.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

// setAppEnv configures a memory-mode app with cheap hashing.
func setAppEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MEDAUTH_DATABASE_URL", "")
	t.Setenv("MEDAUTH_TOKEN_HMAC_KEY", "")
	t.Setenv("MEDAUTH_REQUIRE_TOKEN_HMAC", "false")
	t.Setenv("MEDAUTH_JWT_ACCESS_SECRET", strings.Repeat("a", 32))
	t.Setenv("MEDAUTH_JWT_REFRESH_SECRET", strings.Repeat("r", 32))
	t.Setenv("MEDAUTH_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("MEDAUTH_ARGON2_ITERATIONS", "1")
	t.Setenv("MEDAUTH_ARGON2_PARALLELISM", "1")
	t.Setenv("MEDAUTH_WS_ORIGIN_REQUIRED", "false")
}

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	setAppEnv(t)

	a, err := New(LoadConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return a, srv
}

func postJSON(t *testing.T, url, bearer string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNew_RequiresSecrets(t *testing.T) {
	setAppEnv(t)
	t.Setenv("MEDAUTH_JWT_REFRESH_SECRET", "")

	_, err := New(LoadConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestNew_EnforcesTokenHMACPolicy(t *testing.T) {
	setAppEnv(t)
	t.Setenv("MEDAUTH_REQUIRE_TOKEN_HMAC", "true")

	_, err := New(LoadConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEDAUTH_TOKEN_HMAC_KEY is missing")

	t.Setenv("MEDAUTH_TOKEN_HMAC_KEY", "short")
	_, err = New(LoadConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestApp_OperationalRoutes(t *testing.T) {
	_, srv := newTestApp(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "medauth_http_requests_total")
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	setAppEnv(t)
	t.Setenv("MEDAUTH_READINESS_REQUIRE_DB", "true")

	a, err := New(LoadConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestApp_LogoutReachesSocket(t *testing.T) {
	_, srv := newTestApp(t)

	resp := postJSON(t, srv.URL+"/auth/register", "", map[string]string{
		"fullName": "Alice Doe",
		"email":    "alice@example.com",
		"password": "s3cret-Passw0rd",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/auth/patientLogin", "", map[string]string{
		"email":    "alice@example.com",
		"password": "s3cret-Passw0rd",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var login struct {
		AccessToken string `json:"accessToken"`
		Session     struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	require.NotEmpty(t, login.AccessToken)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=" + login.AccessToken
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{Subprotocols: []string{"medauth.notify.v1"}})
	require.NoError(t, err)
	defer conn.CloseNow()

	readType := func(typ string) json.RawMessage {
		for {
			_, b, err := conn.Read(ctx)
			require.NoError(t, err)
			var env struct {
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(b, &env))
			if env.Type == typ {
				return env.Payload
			}
		}
	}
	readType("hello.ack")

	resp = postJSON(t, srv.URL+"/auth/logout", login.AccessToken, map[string]string{"sessionId": login.Session.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ev struct {
		SessionID string `json:"sessionId"`
		Reason    string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(readType("session.revoked"), &ev))
	assert.Equal(t, login.Session.ID, ev.SessionID)
	assert.Equal(t, "logout", ev.Reason)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	setAppEnv(t)
	cfg := LoadConfig()
	cfg.HTTPAddr = "127.0.0.1:0"

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
