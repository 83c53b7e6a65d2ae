// Package app wires the medauth server runtime: config, logging, storage,
// the auth engine, HTTP routes, the notification socket and the presence sweeper.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"medauth/cmd/identity"
	"medauth/cmd/internal/auth"
	authapi "medauth/cmd/internal/auth/api"
	"medauth/cmd/internal/auth/session"
	"medauth/cmd/internal/db"
	"medauth/cmd/internal/metrics"
	"medauth/cmd/internal/notify"
	"medauth/cmd/internal/presence"
	"medauth/cmd/internal/realtime"
	"medauth/cmd/security/password"
)

// App is the medauth server runtime. It owns the DB pool, the metrics
// registry, the sweeper lifecycle and the root HTTP handler.
type App struct {
	cfg Config
	log Logger

	pool    *pgxpool.Pool
	metrics *metrics.Metrics
	sweeper *presence.Sweeper
	hub     *realtime.Hub

	handler http.Handler
}

// storage bundles the stores selected by configuration.
type storage struct {
	users    identity.Store
	sessions session.Store
	audit    authapi.Auditor
	pool     *pgxpool.Pool
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	digestKey, err := refreshDigestKey(cfg)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	signer, err := sessCfg.Signer(digestKey)
	if err != nil {
		return nil, err
	}
	hasher, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	engineCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sweepCfg, err := presence.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg, log)
	if err != nil {
		return nil, err
	}

	st, err := newStorage(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, pool: st.pool, metrics: metrics.New(), hub: realtime.NewHub(log)}
	err = a.wire(st, wiring{
		sessions:  session.NewService(signer, st.sessions),
		hasher:    hasher,
		notifier:  notifier,
		engineCfg: engineCfg,
		apiCfg:    apiCfg,
		sweepCfg:  sweepCfg,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// wiring carries the env-derived collaborators into wire.
type wiring struct {
	sessions  *session.Service
	hasher    password.Config
	notifier  notify.Notifier
	engineCfg auth.Config
	apiCfg    authapi.Config
	sweepCfg  presence.Config
}

func (a *App) wire(st storage, w wiring) error {
	engine, err := auth.New(w.engineCfg, auth.Deps{
		Users:     st.users,
		Sessions:  w.sessions,
		Hasher:    w.hasher,
		Notifier:  w.notifier,
		Publisher: a.hub,
		Metrics:   a.metrics,
		Log:       a.log,
	})
	if err != nil {
		return err
	}

	authHandler, err := authapi.NewHandler(a.log, engine, w.sessions.Signer(), w.apiCfg, authapi.WithAuditor(st.audit))
	if err != nil {
		return err
	}

	ws, err := realtime.NewWSGateway(a.log, a.hub, authHandler.Gatekeeper(), realtime.GatewayConfigFromEnv(),
		realtime.WithActivity(engine),
		realtime.WithConnMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	a.sweeper, err = presence.NewSweeper(st.users, w.sweepCfg, a.log,
		presence.WithSessions(w.sessions),
		presence.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux, routes{auth: authHandler, ws: ws, metrics: a.metrics.Handler()})

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRecover(h, a.log)
	h = WithRequestLogging(h, a.log, a.metrics)
	h = WithRequestID(h)
	a.handler = h
	return nil
}

// Handler returns the root HTTP handler with the middleware chain applied.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the sweeper and the HTTP server and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.sweeper.Start(ctx)

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.pool != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	a.sweeper.Stop()
	a.close()

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// newStorage decides between Postgres-backed persistence and in-memory dev stores.
func newStorage(ctx context.Context, cfg Config, log Logger) (storage, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore()
		return storage{
			users:    users,
			sessions: session.NewMemoryStore(users),
			audit:    authapi.NopAuditor{},
		}, nil
	}

	if cfg.DBAutoMigrate {
		if err := db.Run(cfg.DatabaseURL, "up"); err != nil {
			return storage{}, fmt.Errorf("auto-migrate: %w", err)
		}
		log.Info("db.migrate.done", "direction", "up")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return storage{}, err
	}

	st, err := postgresStorage(pool, log)
	if err != nil {
		pool.Close()
		return storage{}, err
	}

	log.Info("db.enabled.postgres_store", "schema", db.SchemaName)
	return st, nil
}

func postgresStorage(pool *pgxpool.Pool, log Logger) (storage, error) {
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(db.SchemaName))
	if err != nil {
		return storage{}, err
	}
	sessions, err := session.NewPostgresStore(pool, db.SchemaName)
	if err != nil {
		return storage{}, err
	}
	audit, err := authapi.NewPostgresAuditor(pool, db.SchemaName, log)
	if err != nil {
		return storage{}, err
	}
	return storage{users: users, sessions: sessions, audit: audit, pool: pool}, nil
}

// newNotifier selects SMTP delivery when a relay is configured.
func newNotifier(cfg Config, log Logger) (notify.Notifier, error) {
	if cfg.SMTPHost == "" {
		log.Info("notify.log_only")
		return notify.NewLogNotifier(log), nil
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		AdminEmail: cfg.AdminEmail,
	})
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
