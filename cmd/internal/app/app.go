// Package app wires the playgate runtime: config, logging, storage backends,
// the session manager, HTTP routes and the session-event gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"playgate/cmd/internal/observability"
	playapi "playgate/cmd/internal/play/api"
	"playgate/cmd/internal/play/asset"
	"playgate/cmd/internal/play/billing"
	"playgate/cmd/internal/play/session"
	"playgate/cmd/internal/realtime"
)

// Components holds the per-package configuration App is built from.
type Components struct {
	Session  session.Config
	Billing  billing.Config
	Asset    asset.Config
	API      playapi.Config
	Realtime realtime.Config
}

// LoadComponents reads every component config from the environment.
// Session config is parsed without key validation; ValidateSecurityConfig
// decides what happens to a missing key.
func LoadComponents() (Components, error) {
	var c Components
	var err error
	if c.Session, err = loadSessionConfig(); err != nil {
		return Components{}, err
	}
	if c.Billing, err = billing.LoadConfigFromEnv(); err != nil {
		return Components{}, err
	}
	if c.Asset, err = asset.LoadConfigFromEnv(); err != nil {
		return Components{}, err
	}
	if c.API, err = playapi.LoadConfigFromEnv(); err != nil {
		return Components{}, err
	}
	if c.Realtime, err = realtime.LoadConfigFromEnv(); err != nil {
		return Components{}, err
	}
	return c, nil
}

// App is the playgate server runtime: it owns HTTP server wiring and the
// lifetime of storage and billing connections.
type App struct {
	cfg Config
	log Logger

	backends  *backends
	closeGate func() error

	metrics  *observability.Metrics
	sessions *session.Manager
	hub      *realtime.Hub
	handler  http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, comp Components, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, false)
	}
	if err := ValidateSecurityConfig(cfg, &comp.Session, log); err != nil {
		return nil, err
	}
	if err := comp.Session.Validate(); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	be, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, backends: be, metrics: metrics}
	if err := a.wire(comp); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(comp Components) error {
	gate, closeGate, err := billing.Open(comp.Billing, a.metrics, a.log)
	if err != nil {
		return err
	}
	a.closeGate = closeGate

	tokens, err := session.NewTokenIssuer(comp.Session)
	if err != nil {
		return err
	}

	a.hub = realtime.NewHub(a.log)
	audit := a.backends.audit
	if audit == nil {
		audit = playapi.LogAudit{Log: a.log}
	}

	a.sessions, err = session.NewManager(comp.Session, session.Deps{
		Store:      a.backends.sessions,
		Tokens:     tokens,
		Billing:    gate,
		Principals: a.backends.principals,
		Resources:  a.backends.catalog,
		Notifier:   session.Notifiers{a.hub, playapi.AuditNotifier{Sink: audit, Timeout: 2 * time.Second}},
		Metrics:    a.metrics,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}

	assets, err := asset.NewGateway(comp.Asset, asset.Deps{
		Assets:   a.backends.catalog,
		Sessions: a.sessions,
		Metrics:  a.metrics,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}

	play, err := playapi.NewHandler(comp.API, playapi.Deps{
		Sessions: a.sessions,
		Tokens:   tokens,
		Assets:   assets,
		Audit:    audit,
		Metrics:  a.metrics,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}

	ws, err := realtime.NewWSGateway(comp.Realtime, realtime.Deps{
		Hub:      a.hub,
		Tokens:   tokens,
		Sessions: a.sessions,
		Metrics:  a.metrics,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}

	a.handler = newRouter(a.cfg, a.log, routeDeps{
		play:     play,
		ws:       ws,
		metrics:  a.metrics,
		backends: a.backends,
	})
	return nil
}

// Handler returns the fully wrapped HTTP handler.
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

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	a.sessions.StartSweeper(sweepCtx, 0)

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"events_url", eventsURL(a.cfg.HTTPAddr),
		"store", a.backends.kind,
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
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}
	if err := a.close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

func (a *App) close() error {
	var errs []error
	if a.closeGate != nil {
		errs = append(errs, a.closeGate())
	}
	if a.backends != nil {
		errs = append(errs, a.backends.Close())
	}
	return errors.Join(errs...)
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
