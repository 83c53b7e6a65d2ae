package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medauth/cmd/identity"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedUser(t *testing.T, users *identity.MemoryStore, email string, online bool, lastActive time.Time) identity.User {
	t.Helper()
	ctx := context.Background()
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		FullName:     "Presence User",
		Email:        email,
		PasswordHash: "hash",
		Role:         identity.RolePatient,
		Now:          lastActive,
	})
	require.NoError(t, err)
	require.NoError(t, users.SetOnline(ctx, u.ID, online, lastActive))
	return u
}

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	users := identity.NewMemoryStore()

	stale := seedUser(t, users, "stale@x.io", true, t0.Add(-5*time.Minute))
	fresh := seedUser(t, users, "fresh@x.io", true, t0.Add(-30*time.Second))
	offline := seedUser(t, users, "off@x.io", false, t0.Add(-time.Hour))

	s, err := NewSweeper(users, DefaultConfig(), quietLog())
	require.NoError(t, err)

	n, err := s.SweepOnce(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := users.GetUserByID(ctx, stale.ID)
	assert.False(t, got.IsOnline)
	got, _ = users.GetUserByID(ctx, fresh.ID)
	assert.True(t, got.IsOnline)
	got, _ = users.GetUserByID(ctx, offline.ID)
	assert.False(t, got.IsOnline)
	assert.Equal(t, t0.Add(-time.Hour), *got.LastActiveAt)

	n, err = s.SweepOnce(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep is a no-op")
}

type purgeSpy struct {
	before time.Time
	n      int64
	err    error
}

func (p *purgeSpy) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	p.before = before
	return p.n, p.err
}

func TestSweepOnce_PurgesWithWindowCutoff(t *testing.T) {
	spy := &purgeSpy{n: 3}
	s, err := NewSweeper(identity.NewMemoryStore(), Config{Interval: time.Minute, Window: 2 * time.Minute}, quietLog(), WithSessions(spy))
	require.NoError(t, err)

	n, err := s.SweepOnce(context.Background(), t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, t0.Add(-2*time.Minute), spy.before)

	spy.err = errors.New("db down")
	_, err = s.SweepOnce(context.Background(), t0)
	assert.Error(t, err)
}

type failingUsers struct{ calls atomic.Int32 }

func (f *failingUsers) MarkInactiveOffline(context.Context, time.Time, time.Time) (int64, error) {
	f.calls.Add(1)
	return 0, errors.New("connection refused")
}

func TestSweepOnce_Error(t *testing.T) {
	s, err := NewSweeper(&failingUsers{}, DefaultConfig(), quietLog())
	require.NoError(t, err)

	_, err = s.SweepOnce(context.Background(), t0)
	assert.EqualError(t, err, "connection refused")
}

type panickingUsers struct{ calls atomic.Int32 }

func (p *panickingUsers) MarkInactiveOffline(context.Context, time.Time, time.Time) (int64, error) {
	if p.calls.Add(1) == 1 {
		panic("boom")
	}
	return 0, nil
}

func TestSweeper_LoopSurvivesFailures(t *testing.T) {
	users := &panickingUsers{}
	s, err := NewSweeper(users, Config{Interval: 10 * time.Millisecond, Window: time.Minute}, quietLog())
	require.NoError(t, err)

	s.Start(context.Background())
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return users.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	stopped := users.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, users.calls.Load(), "no sweeps after Stop")

	s.Stop()
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MEDAUTH_SWEEP_INTERVAL", "30s")
	t.Setenv("MEDAUTH_ACTIVITY_WINDOW", "")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Window)

	t.Setenv("MEDAUTH_ACTIVITY_WINDOW", "soon")
	_, err = ConfigFromEnv()
	assert.Error(t, err)
}

func TestNewSweeper_RequiresStore(t *testing.T) {
	_, err := NewSweeper(nil, DefaultConfig(), nil)
	assert.Error(t, err)
}
