package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/medauth.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run() error {
	if err := LoadDotEnv(DefaultDotEnvFiles...); err != nil {
		return err
	}

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)

	a, err := New(cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
