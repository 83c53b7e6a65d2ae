package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"medauth/cmd/identity"
	"medauth/cmd/security/token"
)

// PostgresStore implements Store using PostgreSQL (<schema>.sessions and <schema>.users).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore creates a Postgres-backed session store. An empty schema
// selects identity.DefaultSchema.
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	if schema == "" {
		schema = identity.DefaultSchema
	}
	if !identity.ValidSchemaIdent(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

func (s *PostgresStore) sessions() string { return identity.PGIdent(s.schema, "sessions") }

const rowColumns = `id, user_id, device_name, refresh_token_hash, expires_at, created_at, last_used_at, user_agent`

// Create inserts a placeholder session row.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Row, error) {
	id, err := identity.NewULID(now)
	if err != nil {
		return Row{}, err
	}
	placeholder, err := newPlaceholderHash()
	if err != nil {
		return Row{}, err
	}

	var ip any
	if dev.IP != nil {
		ip = dev.IP.String()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.sessions()+` (
			id, user_id, device_name, refresh_token_hash,
			expires_at, created_at, last_used_at, user_agent, ip
		) VALUES (
			$1, $2, $3, $4,
			$5, $5, NULL, $6, $7
		)
	`, id, userID, nullIfEmpty(dev.Name), placeholder, now, nullIfEmpty(dev.UserAgent), ip)
	if err != nil {
		return Row{}, err
	}

	return Row{
		ID:               id,
		UserID:           userID,
		DeviceName:       strPtrOrNil(dev.Name),
		RefreshTokenHash: placeholder,
		ExpiresAt:        now,
		CreatedAt:        now,
		UserAgent:        strPtrOrNil(dev.UserAgent),
	}, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	return scanRow(s.pool.QueryRow(ctx, `
		SELECT `+rowColumns+`
		FROM `+s.sessions()+`
		WHERE id = $1
	`, sessionID))
}

// Finalize sets the real digest and marks the owner online in one transaction.
func (s *PostgresStore) Finalize(ctx context.Context, sessionID, userID, refreshHash string, expiresAt, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET refresh_token_hash = $3, expires_at = $4, last_used_at = $5
		WHERE id = $1 AND user_id = $2
	`, sessionID, userID, refreshHash, expiresAt, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	if err := setOnlineTx(ctx, tx, s.schema, userID, true, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Rotate compares and swaps the stored digest under SELECT ... FOR UPDATE.
// Concurrent rotations of one session serialize on the row lock; the loser reads
// the winner's digest, fails the comparison and deletes the session.
func (s *PostgresStore) Rotate(ctx context.Context, sessionID, presentedHash, newHash string, newExpiresAt, now time.Time) (Row, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Row{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := scanRow(tx.QueryRow(ctx, `
		SELECT `+rowColumns+`
		FROM `+s.sessions()+`
		WHERE id = $1
		FOR UPDATE
	`, sessionID))
	if err != nil {
		return Row{}, err
	}

	if !token.DigestEqual(row.RefreshTokenHash, presentedHash) || !row.ExpiresAt.After(now) {
		if _, err := tx.Exec(ctx, `DELETE FROM `+s.sessions()+` WHERE id = $1`, sessionID); err != nil {
			return Row{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return Row{}, err
		}
		return row, ErrReuseOrExpired
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.sessions()+`
		SET refresh_token_hash = $2, expires_at = $3, last_used_at = $4
		WHERE id = $1
	`, sessionID, newHash, newExpiresAt, now); err != nil {
		return Row{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Row{}, err
	}

	row.RefreshTokenHash = newHash
	row.ExpiresAt = newExpiresAt
	row.LastUsedAt = &now
	return row, nil
}

// Delete removes a session row.
func (s *PostgresStore) Delete(ctx context.Context, sessionID string) (Row, error) {
	return scanRow(s.pool.QueryRow(ctx, `
		DELETE FROM `+s.sessions()+`
		WHERE id = $1
		RETURNING `+rowColumns, sessionID))
}

// Logout deletes the caller's session and marks them offline in one transaction.
func (s *PostgresStore) Logout(ctx context.Context, sessionID, userID string, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	err = tx.QueryRow(ctx, `
		SELECT user_id FROM `+s.sessions()+`
		WHERE id = $1
		FOR UPDATE
	`, sessionID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrSessionNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+s.sessions()+` WHERE id = $1`, sessionID); err != nil {
		return err
	}
	if err := setOnlineTx(ctx, tx, s.schema, userID, false, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ResetCredentials swaps the password digest and drops every session of the user.
func (s *PostgresStore) ResetCredentials(ctx context.Context, userID, passwordHash string, now time.Time) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, identity.ResetPasswordSQL(s.schema), userID, passwordHash, now)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, identity.NotFoundError{Op: "session.ResetCredentials", Resource: "user"}
	}

	rows, err := tx.Query(ctx, `DELETE FROM `+s.sessions()+` WHERE user_id = $1 RETURNING id`, userID)
	if err != nil {
		return nil, err
	}
	revoked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	if err := setOnlineTx(ctx, tx, s.schema, userID, false, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return revoked, nil
}

// DeleteExpired removes rows that expired before the cutoff.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessions()+` WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func setOnlineTx(ctx context.Context, tx pgx.Tx, schema, userID string, online bool, at time.Time) error {
	tag, err := tx.Exec(ctx, identity.SetOnlineSQL(schema), userID, online, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.NotFoundError{Op: "session.setOnline", Resource: "user"}
	}
	return nil
}

func scanRow(r pgx.Row) (Row, error) {
	var row Row
	err := r.Scan(
		&row.ID,
		&row.UserID,
		&row.DeviceName,
		&row.RefreshTokenHash,
		&row.ExpiresAt,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.UserAgent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
