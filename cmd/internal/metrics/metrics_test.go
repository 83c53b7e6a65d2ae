package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Login("PATIENT", "ok")
	m.Refresh("ok")
	m.Logout()
	m.OTP("send", "ok")
	m.Sweep("ok", 3, 1)
	m.ConnOpened()
	m.ConnClosed()
	m.HTTPRequest("GET", 200)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountersAndExposition(t *testing.T) {
	m := New()

	m.Login("DOCTOR", "ok")
	m.Login("DOCTOR", "ok")
	m.Login("ADMIN", "bad_credentials")
	m.Sweep("ok", 4, 2)
	m.HTTPRequest("POST", 201)
	m.HTTPRequest("POST", 503)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		`medauth_auth_logins_total{result="ok",role="DOCTOR"} 2`,
		`medauth_auth_logins_total{result="bad_credentials",role="ADMIN"} 1`,
		"medauth_presence_marked_offline_total 4",
		"medauth_presence_sessions_purged_total 2",
		`medauth_http_requests_total{method="POST",status="5xx"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}
