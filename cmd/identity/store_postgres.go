package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the Postgres schema holding medauth tables.
const DefaultSchema = "medauth"

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema identifiers are validated and quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "medauth").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !ValidSchemaIdent(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, full_name, email, email_norm, phone, password_hash, role,
	is_online, last_active_at, otp, otp_expires_at, otp_verified, created_at, updated_at`

// CreateUser inserts a new user. A duplicate normalized email is a ConflictError.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, emailNorm, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	users := PGIdent(s.schema, "users")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, full_name, email, email_norm, phone, password_hash, role,
		     is_online, otp_verified, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, false, false, $8, $8)`,
		id,
		in.FullName,
		strings.TrimSpace(in.Email),
		emailNorm,
		in.Phone,
		in.PasswordHash,
		string(in.Role),
		in.Now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}

	return User{
		ID:           id,
		FullName:     in.FullName,
		Email:        strings.TrimSpace(in.Email),
		EmailNorm:    emailNorm,
		Phone:        in.Phone,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}, nil
}

// GetUserByEmail loads a user by normalized email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, userNotFound(op)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+PGIdent(s.schema, "users")+` WHERE email_norm = $1`,
		norm,
	)
	return scanUser(op, row)
}

// GetUserByID loads a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, userNotFound(op)
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+PGIdent(s.schema, "users")+` WHERE id = $1`,
		id,
	)
	return scanUser(op, row)
}

// SetOTP stores a pending reset code.
func (s *PostgresStore) SetOTP(ctx context.Context, userID, code string, expiresAt, now time.Time) error {
	const op = "identity.SetOTP"
	if strings.TrimSpace(code) == "" {
		return invalid(op, "empty otp")
	}
	return s.execOne(ctx, op,
		`UPDATE `+PGIdent(s.schema, "users")+`
		    SET otp = $2, otp_expires_at = $3, otp_verified = false, updated_at = $4
		  WHERE id = $1`,
		userID, code, expiresAt, now,
	)
}

// MarkOTPVerified flags the pending code as verified.
func (s *PostgresStore) MarkOTPVerified(ctx context.Context, userID string, now time.Time) error {
	return s.execOne(ctx, "identity.MarkOTPVerified",
		`UPDATE `+PGIdent(s.schema, "users")+`
		    SET otp_verified = true, updated_at = $2
		  WHERE id = $1`,
		userID, now,
	)
}

// ResetPassword replaces the password digest and clears OTP state.
func (s *PostgresStore) ResetPassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	const op = "identity.ResetPassword"
	if passwordHash == "" {
		return invalid(op, "empty password hash")
	}
	return s.execOne(ctx, op, ResetPasswordSQL(s.schema), userID, passwordHash, now)
}

// ResetPasswordSQL is the statement ResetPassword runs, exposed so the session
// store can apply it inside its own transaction. Args: id, password_hash, now.
func ResetPasswordSQL(schema string) string {
	return `UPDATE ` + PGIdent(schema, "users") + `
	           SET password_hash = $2, otp = NULL, otp_expires_at = NULL, otp_verified = false, updated_at = $3
	         WHERE id = $1`
}

// SetOnline sets the presence flag and last_active_at.
func (s *PostgresStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	return s.execOne(ctx, "identity.SetOnline", SetOnlineSQL(s.schema), userID, online, at)
}

// SetOnlineSQL is the statement SetOnline runs. Args: id, is_online, at.
func SetOnlineSQL(schema string) string {
	return `UPDATE ` + PGIdent(schema, "users") + `
	           SET is_online = $2, last_active_at = $3, updated_at = $3
	         WHERE id = $1`
}

// TouchActivity bumps last_active_at for an online user.
func (s *PostgresStore) TouchActivity(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+PGIdent(s.schema, "users")+`
		    SET last_active_at = $2
		  WHERE id = $1 AND is_online AND (last_active_at IS NULL OR last_active_at < $2)`,
		userID, at,
	)
	return err
}

// MarkInactiveOffline flips every online user idle since before cutoff.
func (s *PostgresStore) MarkInactiveOffline(ctx context.Context, cutoff, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+PGIdent(s.schema, "users")+`
		    SET is_online = false, updated_at = $2
		  WHERE is_online AND last_active_at < $1`,
		cutoff, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountOnline counts users flagged online.
func (s *PostgresStore) CountOnline(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+PGIdent(s.schema, "users")+` WHERE is_online`,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) execOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return userNotFound(op)
	}
	return nil
}

func scanUser(op string, row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(
		&u.ID,
		&u.FullName,
		&u.Email,
		&u.EmailNorm,
		&u.Phone,
		&u.PasswordHash,
		&role,
		&u.IsOnline,
		&u.LastActiveAt,
		&u.OTP,
		&u.OTPExpiresAt,
		&u.OTPVerified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, userNotFound(op)
		}
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// ---- helpers ----

// ValidSchemaIdent checks if a string is a safe Postgres identifier.
func ValidSchemaIdent(s string) bool {
	return pgIdentRe.MatchString(s)
}

// PGIdent safely quotes a schema-qualified identifier: "schema"."name".
func PGIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "unique", true
	}
}
