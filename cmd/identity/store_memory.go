package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development mode and tests.
// Returned Users are copies; callers cannot mutate stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, emailNorm, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byEmail[emailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := &User{
		ID:           id,
		FullName:     in.FullName,
		Email:        strings.TrimSpace(in.Email),
		EmailNorm:    emailNorm,
		Phone:        cloneString(in.Phone),
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	m.byID[id] = u
	m.byEmail[emailNorm] = id
	return copyUser(u), nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, userNotFound("identity.GetUserByEmail")
	}
	return copyUser(m.byID[id]), nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, userNotFound("identity.GetUserByID")
	}
	return copyUser(u), nil
}

func (m *MemoryStore) SetOTP(ctx context.Context, userID, code string, expiresAt, now time.Time) error {
	if strings.TrimSpace(code) == "" {
		return invalid("identity.SetOTP", "empty otp")
	}
	return m.update(ctx, "identity.SetOTP", userID, func(u *User) {
		u.OTP = &code
		exp := expiresAt
		u.OTPExpiresAt = &exp
		u.OTPVerified = false
		u.UpdatedAt = now
	})
}

func (m *MemoryStore) MarkOTPVerified(ctx context.Context, userID string, now time.Time) error {
	return m.update(ctx, "identity.MarkOTPVerified", userID, func(u *User) {
		u.OTPVerified = true
		u.UpdatedAt = now
	})
}

func (m *MemoryStore) ResetPassword(ctx context.Context, userID, passwordHash string, now time.Time) error {
	if passwordHash == "" {
		return invalid("identity.ResetPassword", "empty password hash")
	}
	return m.update(ctx, "identity.ResetPassword", userID, func(u *User) {
		u.PasswordHash = passwordHash
		u.OTP = nil
		u.OTPExpiresAt = nil
		u.OTPVerified = false
		u.UpdatedAt = now
	})
}

func (m *MemoryStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	return m.update(ctx, "identity.SetOnline", userID, func(u *User) {
		u.IsOnline = online
		t := at
		u.LastActiveAt = &t
		u.UpdatedAt = at
	})
}

func (m *MemoryStore) TouchActivity(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[userID]
	if !ok || !u.IsOnline {
		return nil
	}
	if u.LastActiveAt == nil || u.LastActiveAt.Before(at) {
		t := at
		u.LastActiveAt = &t
	}
	return nil
}

func (m *MemoryStore) MarkInactiveOffline(ctx context.Context, cutoff, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, u := range m.byID {
		if u.IsOnline && u.LastActiveAt != nil && u.LastActiveAt.Before(cutoff) {
			u.IsOnline = false
			u.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountOnline(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, u := range m.byID {
		if u.IsOnline {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) update(ctx context.Context, op, userID string, fn func(*User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[userID]
	if !ok {
		return userNotFound(op)
	}
	fn(u)
	return nil
}

func copyUser(u *User) User {
	out := *u
	out.Phone = cloneString(u.Phone)
	out.OTP = cloneString(u.OTP)
	out.LastActiveAt = cloneTime(u.LastActiveAt)
	out.OTPExpiresAt = cloneTime(u.OTPExpiresAt)
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
