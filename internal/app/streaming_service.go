package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/capture"
	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/core"
	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/hue"
	"github.com/dokzlo13/ambilightd/internal/interp"
	"github.com/dokzlo13/ambilightd/internal/ledger"
	"github.com/dokzlo13/ambilightd/internal/profile"
	"github.com/dokzlo13/ambilightd/internal/scheduler"
)

// StreamingService wraps the channel registry, the streaming loop and the
// periodic tasks around it.
type StreamingService struct {
	cfg        *config.Config
	configPath string

	Registry  *entertainment.Registry
	Interp    *interp.Interpolator
	Scheduler *scheduler.Scheduler
	Core      *core.Core

	ledger *ledger.Ledger
}

// StreamingDeps are the collaborators created before the bridge topology is known.
type StreamingDeps struct {
	Configurations []entertainment.Configuration
	Capture        capture.Source
	Sessions       scheduler.SessionFactory
	Bus            *eventbus.Bus
	Ledger         *ledger.Ledger
	Profiles       *profile.Store
	Version        string
	Bridge         *hue.BridgeInfo
}

// NewStreamingService builds the streaming stack for the loaded topology.
func NewStreamingService(cfg *config.Config, configPath string, deps StreamingDeps) *StreamingService {
	mode, err := interp.ParseMode(cfg.Tuning.Interpolation)
	if err != nil {
		log.Warn().Err(err).Str("default", interp.DefaultMode.String()).Msg("Using default interpolation mode")
		mode = interp.DefaultMode
	}

	registry := entertainment.NewRegistry(deps.Configurations)
	interpolator := interp.New(mode)

	sched := scheduler.New(scheduler.Deps{
		Channels: registry,
		Capture:  capture.NewBounded(deps.Capture),
		Interp:   interpolator,
		Sessions: deps.Sessions,
		Bus:      deps.Bus,
		Ledger:   deps.Ledger,
	}, scheduler.Options{
		RefreshRate:    cfg.Tuning.RefreshRate,
		SubsampleWidth: cfg.Tuning.SubsampleWidth,
		MaxRefreshRate: cfg.Capture.MaxRefreshRate,
		PreviewRate:    cfg.Streaming.PreviewRate,
	})

	c := core.New(core.Deps{
		Registry:  registry,
		Scheduler: sched,
		Interp:    interpolator,
		Display:   deps.Capture,
		Profiles:  deps.Profiles,
		Bus:       deps.Bus,
		Version:   deps.Version,
		Bridge:    deps.Bridge,
	})

	return &StreamingService{
		cfg:        cfg,
		configPath: configPath,
		Registry:   registry,
		Interp:     interpolator,
		Scheduler:  sched,
		Core:       c,
		ledger:     deps.Ledger,
	}
}

// Start restores the saved profile, starts the periodic tasks and, if
// configured, begins streaming.
func (s *StreamingService) Start(ctx context.Context) error {
	if err := s.Core.Restore(s.cfg.Hue.EntertainmentConfiguration); err != nil {
		return err
	}

	go s.runLedgerCleanup(ctx)

	if s.cfg.WatchConfig && s.configPath != "" {
		go func() {
			if err := config.Watch(ctx, s.configPath, s.applyTuning); err != nil {
				log.Error().Err(err).Msg("Config watcher error")
			}
		}()
	}

	if s.cfg.Streaming.Autostart {
		if err := s.Core.Launch(ctx); err != nil {
			log.Warn().Err(err).Msg("Autostart skipped")
		}
	}
	return nil
}

// applyTuning re-applies the tuning section of a reloaded configuration.
// Everything else requires a restart.
func (s *StreamingService) applyTuning(cfg *config.Config) {
	rate := s.Core.SetRefreshRate(cfg.Tuning.RefreshRate)
	width := s.Core.SetSubsampleWidth(cfg.Tuning.SubsampleWidth)

	mode, err := interp.ParseMode(cfg.Tuning.Interpolation)
	if err != nil {
		log.Warn().Err(err).Msg("Reloaded interpolation mode ignored")
		mode = s.Interp.Mode()
	}
	mode = s.Core.SetInterpolationMode(mode)

	log.Info().
		Int("refresh_rate", rate).
		Int("subsample_width", width).
		Str("interpolation", mode.String()).
		Msg("Tuning reloaded")
}

// Stop ends streaming and waits for the session teardown. It returns the
// configuration that was streaming, or "" when nothing was.
func (s *StreamingService) Stop() string {
	status := s.Core.Status()
	stopped := s.Core.Stop()
	s.Core.Wait()
	if !stopped {
		return ""
	}
	log.Info().Str("config_id", status.ConfigurationID).Msg("Streaming stopped")
	return status.ConfigurationID
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *StreamingService) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
