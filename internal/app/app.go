package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/config"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new App instance with all services initialized but not started.
// configPath is watched for tuning changes when watch_config is set.
func New(cfg *config.Config, configPath, version string) (*App, error) {
	services, err := NewServices(cfg, configPath, version)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	// Fatal error handler - cancels the app context to trigger shutdown
	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		return err
	}

	log.Info().Msg("ambilightd started")
	return nil
}

// Stop gracefully shuts down all services. Streaming is torn down first so
// the bridge leaves entertainment mode before the process exits.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ResetProfile deletes the saved profile so the next start uses the
// configured defaults (--reset-profile).
func (a *App) ResetProfile() error {
	if a.services != nil {
		return a.services.ResetProfile()
	}
	return nil
}

// SignalContext creates a context that is cancelled on the first SIGINT or
// SIGTERM. Shutdown waits for the bridge to leave entertainment mode; a second
// signal exits immediately.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()

		sig = <-sigChan
		log.Error().Str("signal", sig.String()).Msg("Second signal, exiting without cleanup")
		os.Exit(1)
	}()

	return ctx
}
