package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/capture"
	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/db"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/ledger"
	"github.com/dokzlo13/ambilightd/internal/profile"
	"github.com/dokzlo13/ambilightd/internal/state"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg        *config.Config
	configPath string
	version    string

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *state.Store
	Profiles *profile.Store
	Bus      *eventbus.Bus
	Capture  capture.Source

	// High-level services
	Hue  *HueService
	MQTT *MQTTService

	// Created in Start, once the bridge topology is loaded
	Streaming *StreamingService
	API       *APIService
}

// NewServices creates the services that do not need the bridge.
func NewServices(cfg *config.Config, configPath, version string) (*Services, error) {
	s := &Services{cfg: cfg, configPath: configPath, version: version}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = state.NewStore(database.DB)
	s.Profiles = profile.NewStore(s.Store)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Capture, err = capture.Open(captureOptions(cfg.Capture))
	if err != nil {
		s.Close()
		return nil, err
	}
	info := s.Capture.Info()
	log.Info().
		Str("backend", cfg.Capture.Backend).
		Int("width", info.Width).
		Int("height", info.Height).
		Int("max_refresh_rate", info.MaxRefreshRate).
		Msg("Capture source opened")

	s.Hue, err = NewHueService(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.MQTT = NewMQTTService(cfg)

	return s, nil
}

func captureOptions(cfg config.CaptureConfig) capture.Options {
	return capture.Options{
		Backend:        capture.Backend(cfg.Backend),
		Display:        cfg.Display,
		MaxRefreshRate: cfg.MaxRefreshRate,
		Pattern: capture.PatternOptions{
			Mode:   capture.PatternMode(cfg.Pattern.Mode),
			Color:  cfg.Pattern.Color,
			Width:  cfg.Pattern.Width,
			Height: cfg.Pattern.Height,
			Period: cfg.Pattern.Period.Duration(),
		},
	}
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., max reconnects exceeded).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	configs, err := s.Hue.Start(ctx)
	if err != nil {
		return err
	}

	s.Streaming = NewStreamingService(s.cfg, s.configPath, StreamingDeps{
		Configurations: configs,
		Capture:        s.Capture,
		Sessions:       s.Hue.Sessions(),
		Bus:            s.Bus,
		Ledger:         s.Ledger,
		Profiles:       s.Profiles,
		Version:        s.version,
		Bridge:         s.Hue.Bridge(),
	})
	s.API = NewAPIService(s.cfg, s.Streaming.Core, s.Ledger, s.Bus)

	// Subscribers attach before anything publishes
	s.MQTT.Start(s.Bus)
	s.API.Start(ctx)
	s.Hue.StartBackground(ctx, s.Bus, onFatalError)

	return s.Streaming.Start(ctx)
}

// ResetProfile deletes the saved profile.
func (s *Services) ResetProfile() error {
	return s.Profiles.Reset()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Streaming != nil {
		if configID := s.Streaming.Stop(); configID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
			s.Hue.VerifyInactive(ctx, configID)
			cancel()
		}
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Hue != nil {
		s.Hue.Close()
	}
	if s.Capture != nil {
		s.Capture.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

func (s *Services) shutdownTimeout() time.Duration {
	if d := s.cfg.ShutdownTimeout.Duration(); d > 0 {
		return d
	}
	return 5 * time.Second
}
