package session

import (
	"context"
	"sync"
	"time"

	"medauth/cmd/identity"
	"medauth/cmd/security/token"
)

// UserWriter is the slice of the user store the memory session store needs to
// keep user presence and credentials in step with session changes.
type UserWriter interface {
	SetOnline(ctx context.Context, userID string, online bool, at time.Time) error
	ResetPassword(ctx context.Context, userID, passwordHash string, now time.Time) error
}

// MemoryStore is an in-process Store for development mode and tests.
// One mutex serializes every operation, which makes Rotate linearizable per session.
type MemoryStore struct {
	mu    sync.Mutex
	rows  map[string]*Row
	users UserWriter
}

// NewMemoryStore returns an empty store writing presence through users.
func NewMemoryStore(users UserWriter) *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Row), users: users}
}

func (m *MemoryStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	id, err := identity.NewULID(now)
	if err != nil {
		return Row{}, err
	}
	placeholder, err := newPlaceholderHash()
	if err != nil {
		return Row{}, err
	}

	row := &Row{
		ID:               id,
		UserID:           userID,
		DeviceName:       strPtrOrNil(dev.Name),
		RefreshTokenHash: placeholder,
		ExpiresAt:        now,
		CreatedAt:        now,
		UserAgent:        strPtrOrNil(dev.UserAgent),
	}

	m.mu.Lock()
	m.rows[id] = row
	m.mu.Unlock()
	return copyRow(row), nil
}

func (m *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return copyRow(row), nil
}

func (m *MemoryStore) Finalize(ctx context.Context, sessionID, userID, refreshHash string, expiresAt, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[sessionID]
	if !ok || row.UserID != userID {
		return ErrSessionNotFound
	}
	// The user write is the only fallible step, so it goes first.
	if err := m.users.SetOnline(ctx, userID, true, now); err != nil {
		return err
	}
	row.RefreshTokenHash = refreshHash
	row.ExpiresAt = expiresAt
	row.LastUsedAt = &now
	return nil
}

func (m *MemoryStore) Rotate(ctx context.Context, sessionID, presentedHash, newHash string, newExpiresAt, now time.Time) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	if !token.DigestEqual(row.RefreshTokenHash, presentedHash) || !row.ExpiresAt.After(now) {
		delete(m.rows, sessionID)
		return copyRow(row), ErrReuseOrExpired
	}

	row.RefreshTokenHash = newHash
	row.ExpiresAt = newExpiresAt
	row.LastUsedAt = &now
	return copyRow(row), nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	delete(m.rows, sessionID)
	return copyRow(row), nil
}

func (m *MemoryStore) Logout(ctx context.Context, sessionID, userID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[sessionID]
	if !ok || row.UserID != userID {
		return ErrSessionNotFound
	}
	if err := m.users.SetOnline(ctx, userID, false, now); err != nil {
		return err
	}
	delete(m.rows, sessionID)
	return nil
}

func (m *MemoryStore) ResetCredentials(ctx context.Context, userID, passwordHash string, now time.Time) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.users.ResetPassword(ctx, userID, passwordHash, now); err != nil {
		return nil, err
	}
	if err := m.users.SetOnline(ctx, userID, false, now); err != nil {
		return nil, err
	}

	var revoked []string
	for id, row := range m.rows {
		if row.UserID == userID {
			revoked = append(revoked, id)
			delete(m.rows, id)
		}
	}
	return revoked, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, row := range m.rows {
		if row.ExpiresAt.Before(before) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func copyRow(r *Row) Row {
	out := *r
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		out.LastUsedAt = &t
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
