// Package presence keeps users' online flags honest: a periodic sweep marks
// users offline once they have been inactive for longer than the window, and
// purges expired sessions while it is there.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"medauth/cmd/internal/metrics"
)

// UserSweeper is the identity store method the sweep runs.
type UserSweeper interface {
	MarkInactiveOffline(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// SessionPurger deletes sessions that expired before a cutoff.
type SessionPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// Config controls sweep cadence.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// Window is how long a user may stay inactive before being marked offline.
	Window time.Duration
}

// DefaultConfig sweeps every minute with a two minute window.
func DefaultConfig() Config {
	return Config{Interval: time.Minute, Window: 2 * time.Minute}
}

// ConfigFromEnv reads MEDAUTH_SWEEP_INTERVAL and MEDAUTH_ACTIVITY_WINDOW.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{"MEDAUTH_SWEEP_INTERVAL", &cfg.Interval},
		{"MEDAUTH_ACTIVITY_WINDOW", &cfg.Window},
	} {
		v := strings.TrimSpace(os.Getenv(f.key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Second {
			return Config{}, fmt.Errorf("%s must be a duration of at least 1s", f.key)
		}
		*f.dst = d
	}
	return cfg, nil
}

// Sweeper runs the inactivity sweep on a ticker. Start and Stop bracket its
// lifetime; SweepOnce is safe to call directly.
type Sweeper struct {
	users    UserSweeper
	sessions SessionPurger
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithSessions also purges expired sessions on every tick.
func WithSessions(p SessionPurger) Option { return func(s *Sweeper) { s.sessions = p } }

// WithMetrics records sweep outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Sweeper) { s.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Sweeper) { s.now = now } }

// NewSweeper returns a stopped Sweeper.
func NewSweeper(users UserSweeper, cfg Config, log *slog.Logger, opts ...Option) (*Sweeper, error) {
	if users == nil {
		return nil, errors.New("presence: user store is required")
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Sweeper{
		users: users,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the sweep loop. Calling Start on a running Sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	s.log.Info("presence.sweeper.start", "interval", s.cfg.Interval.String(), "window", s.cfg.Window.String())
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("presence.sweeper.stop")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep with a bounded deadline. A panic is logged and the loop
// keeps its schedule.
func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.Sweep("panic", 0, 0)
			s.log.Error("presence.sweep.fail", "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Interval)
	defer cancel()
	_, _ = s.SweepOnce(ctx, s.now())
}

// SweepOnce marks users inactive since now-window offline and returns how many
// were flipped. Users already offline or active inside the window are untouched.
// Expired sessions are purged with the same cutoff, which keeps rows that are
// still mid-issuance out of reach.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.cfg.Window)

	flipped, err := s.users.MarkInactiveOffline(ctx, cutoff, now)
	if err != nil {
		s.metrics.Sweep("error", 0, 0)
		s.log.ErrorContext(ctx, "presence.sweep.fail", "stage", "users", "err", err)
		return 0, err
	}

	var purged int64
	if s.sessions != nil {
		purged, err = s.sessions.PurgeExpired(ctx, cutoff)
		if err != nil {
			s.metrics.Sweep("error", flipped, 0)
			s.log.ErrorContext(ctx, "presence.sweep.fail", "stage", "sessions", "marked_offline", flipped, "err", err)
			return flipped, err
		}
	}

	if flipped == 0 && purged == 0 {
		s.metrics.Sweep("noop", 0, 0)
		s.log.DebugContext(ctx, "presence.sweep.noop")
		return 0, nil
	}

	s.metrics.Sweep("ok", flipped, purged)
	s.log.InfoContext(ctx, "presence.sweep.done", "marked_offline", flipped, "sessions_purged", purged)
	return flipped, nil
}
