package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"KasPull/internal/middleware"
	"KasPull/internal/usecase"
	"KasPull/pkg/config"
	xhttp "KasPull/pkg/http"
	applogger "KasPull/pkg/logger"
)

// Pipelines are the async sinks fed by the notifier.
type Pipelines []*middleware.EventPipeline

// NamedCloser is an infrastructure client released at shutdown.
type NamedCloser struct {
	Name string
	io.Closer
}

type Closers []NamedCloser

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	httpServer *xhttp.Server
	scheduler  *usecase.Scheduler
	balance    *usecase.BalanceService
	pipelines  Pipelines
	closers    Closers
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	httpServer *xhttp.Server,
	scheduler *usecase.Scheduler,
	balance *usecase.BalanceService,
	pipelines Pipelines,
	closers Closers,
) *App {
	return &App{
		cfg:        cfg,
		log:        log.With("app"),
		httpServer: httpServer,
		scheduler:  scheduler,
		balance:    balance,
		pipelines:  pipelines,
		closers:    closers,
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM. SIGHUP
// requests an immediate poll.
func (a *App) Run() error {
	return a.RunContext(context.Background())
}

// RunContext is Run with an external stop signal.
func (a *App) RunContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, p := range a.pipelines {
		p.Start(ctx)
	}

	restoreCtx, restoreCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := a.balance.RestoreSnapshot(restoreCtx); err != nil {
		a.log.Warn("snapshot restore failed", applogger.Error(err))
	}
	restoreCancel()

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	a.log.Info("balance polling started",
		applogger.String("env", a.cfg.Environment),
		applogger.String("events", a.cfg.Events.Backend),
	)

	errCh := a.httpServer.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var runErr error
loop:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if !a.scheduler.Trigger("sighup") {
					a.log.Info("sighup ignored, poll in flight")
				}
				continue
			}
			a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
			break loop
		case err, ok := <-errCh:
			if ok && err != nil {
				a.log.Error("http server error", applogger.Error(err))
				runErr = err
			}
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	a.shutdown()
	return runErr
}

// shutdown stops the producers first so the pipelines can drain what was
// already confirmed, then releases infrastructure clients.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.httpServer.ShutdownTimeout())
	defer cancel()

	if err := a.scheduler.Stop(ctx); err != nil {
		a.log.Warn("scheduler stop error", applogger.Error(err))
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	for _, p := range a.pipelines {
		if err := p.Stop(ctx); err != nil {
			a.log.Warn("pipeline stop error", applogger.Error(err))
		}
	}

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("client", c.Name), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
}
