package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"playgate/cmd/internal/telemetry"
)

// Run is the CLI entrypoint used by cmd/playgate.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, colorEnabled(os.Stdout, cfg.LogColor))

	comp, err := LoadComponents()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error("telemetry.shutdown.fail", "err", err)
		}
	}()

	a, err := New(ctx, cfg, comp, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
