package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"medauth/cmd/identity"
)

// Audit actions.
const (
	auditRegister        = "auth.register"
	auditLoginSuccess    = "auth.login.success"
	auditLoginFailed     = "auth.login.failed"
	auditLoginLimited    = "auth.login.rate_limited"
	auditRefreshSuccess  = "auth.refresh.success"
	auditRefreshRejected = "auth.refresh.rejected"
	auditLogout          = "auth.logout"
	auditOTPSent         = "auth.otp.sent"
	auditOTPVerified     = "auth.otp.verified"
	auditPasswordReset   = "auth.password.reset"
)

// AuditEntry is one security-relevant event.
type AuditEntry struct {
	Action    string
	UserID    string
	SessionID string
	IP        net.IP
	UserAgent string
	RequestID string
	Meta      map[string]any
}

// Auditor records audit entries. Implementations must not fail the request;
// they log their own errors.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry)
}

// NopAuditor drops entries.
type NopAuditor struct{}

func (NopAuditor) Record(context.Context, AuditEntry) {}

// PostgresAuditor appends entries to <schema>.audit_log.
type PostgresAuditor struct {
	pool   *pgxpool.Pool
	log    *slog.Logger
	insert string
}

// NewPostgresAuditor writes to the audit_log table in schema.
func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("authapi: nil pool")
	}
	if !identity.ValidSchemaIdent(schema) {
		return nil, errors.New("authapi: invalid schema")
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAuditor{
		pool: pool,
		log:  log,
		insert: `INSERT INTO ` + identity.PGIdent(schema, "audit_log") + ` (
			user_id, session_id, action, created_at, ip, user_agent, request_id, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6, $7::jsonb)`,
	}, nil
}

func (a *PostgresAuditor) Record(ctx context.Context, e AuditEntry) {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return
	}

	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(context.WithoutCancel(ctx), a.insert,
		trimOrNil(e.UserID), trimOrNil(e.SessionID), action, ipVal,
		trimOrNil(e.UserAgent), trimOrNil(e.RequestID), metaVal)
	if err != nil {
		a.log.ErrorContext(ctx, "auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
