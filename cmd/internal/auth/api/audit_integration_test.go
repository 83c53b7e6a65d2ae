package authapi

import (
	"context"
	"net"
	"testing"
	"time"

	"medauth/cmd/identity"
	"medauth/cmd/internal/testpg"
)

// Integration tests are enabled when MEDAUTH_DATABASE_URL is set.

func TestPostgresAuditor_Record(t *testing.T) {
	pool := testpg.Open(t)
	schema := testpg.Schema(t, pool)

	a, err := NewPostgresAuditor(pool, schema, nil)
	if err != nil {
		t.Fatalf("NewPostgresAuditor: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.Record(ctx, AuditEntry{
		Action:    auditLoginFailed,
		IP:        net.ParseIP("203.0.113.9"),
		UserAgent: "curl/8",
		RequestID: "req-1",
		Meta:      map[string]any{"reason": "bad_credentials"},
	})
	a.Record(ctx, AuditEntry{Action: "  "})

	var (
		n      int
		ip     string
		reqID  string
		reason string
	)
	err = pool.QueryRow(ctx, `
		SELECT count(*) OVER (), host(ip), request_id, meta->>'reason'
		FROM `+identity.PGIdent(schema, "audit_log")+`
		WHERE action = $1
	`, auditLoginFailed).Scan(&n, &ip, &reqID, &reason)
	if err != nil {
		t.Fatalf("query audit_log: %v", err)
	}
	if n != 1 || ip != "203.0.113.9" || reqID != "req-1" || reason != "bad_credentials" {
		t.Fatalf("unexpected row: n=%d ip=%s req=%s reason=%s", n, ip, reqID, reason)
	}
}

func TestNewPostgresAuditor_Validation(t *testing.T) {
	if _, err := NewPostgresAuditor(nil, "medauth", nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
