package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/hue"
	"github.com/dokzlo13/ambilightd/internal/scheduler"
	"github.com/dokzlo13/ambilightd/internal/stream"
)

// HueService wraps all bridge-facing components: REST client, event stream
// and the DTLS dialer used by streaming sessions.
type HueService struct {
	cfg *config.Config

	Client      *hue.Client
	EventStream *hue.EventStream
	dialer      *stream.DTLSDialer
	bridge      *hue.BridgeInfo
}

// NewHueService creates a HueService with all components initialized but not connected.
func NewHueService(cfg *config.Config) (*HueService, error) {
	client := hue.NewClient(cfg.Hue.Bridge, cfg.Hue.ApplicationKey, cfg.Hue.Timeout.Duration())

	dialer, err := stream.NewDTLSDialer(cfg.Hue.Bridge, cfg.Hue.ApplicationKey, cfg.Hue.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("invalid streaming credentials: %w", err)
	}

	eventStream := hue.NewEventStream(client, hue.EventStreamConfig{
		MinBackoff:    cfg.Hue.MinRetryBackoff.Duration(),
		MaxBackoff:    cfg.Hue.MaxRetryBackoff.Duration(),
		Multiplier:    cfg.Hue.RetryMultiplier,
		MaxReconnects: cfg.Hue.MaxReconnects,
	})

	return &HueService{
		cfg:         cfg,
		Client:      client,
		EventStream: eventStream,
		dialer:      dialer,
	}, nil
}

// Start connects to the bridge, identifies it and loads the entertainment topology.
func (s *HueService) Start(ctx context.Context) ([]entertainment.Configuration, error) {
	if err := s.Client.Connect(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("bridge", s.cfg.Hue.Bridge).Msg("Connected to Hue bridge")

	if info, err := s.Client.Identify(ctx); err != nil {
		log.Warn().Err(err).Msg("Bridge identification failed")
	} else {
		s.bridge = &info
	}

	configs, err := s.Client.EntertainmentConfigurations(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Int("configurations", len(configs)).Msg("Entertainment topology loaded")
	return configs, nil
}

// Bridge returns the identity read at Start, or nil if it could not be read.
func (s *HueService) Bridge() *hue.BridgeInfo {
	return s.bridge
}

// Sessions returns the factory the scheduler uses to open streaming sessions.
func (s *HueService) Sessions() scheduler.SessionFactory {
	return func(configID string) scheduler.Session {
		return stream.NewSession(stream.SessionOptions{
			ConfigurationID:  configID,
			HandshakeTimeout: s.cfg.Hue.HandshakeTimeout.Duration(),
			KeepAlive:        s.cfg.Hue.KeepAlive.Duration(),
		}, s.Client, s.dialer)
	}
}

// StartBackground follows bridge-side streaming status changes if enabled.
// The optional onFatalError callback is called when the event stream gives up.
func (s *HueService) StartBackground(ctx context.Context, bus *eventbus.Bus, onFatalError func(error)) {
	if !s.cfg.Hue.EventStream {
		log.Debug().Msg("Bridge event stream disabled")
		return
	}

	go func() {
		if err := s.EventStream.Run(ctx, bus); err != nil {
			if errors.Is(err, hue.ErrMaxReconnectsExceeded) {
				log.Error().Msg("Event stream: max reconnects exceeded, triggering shutdown")
				if onFatalError != nil {
					onFatalError(err)
				}
			} else {
				log.Error().Err(err).Msg("Event stream error")
			}
		}
	}()
}

// VerifyInactive checks that the bridge left entertainment mode for configID
// after a session teardown and warns when it did not.
func (s *HueService) VerifyInactive(ctx context.Context, configID string) {
	status, err := s.Client.StreamingStatus(ctx, configID)
	if err != nil {
		log.Warn().Err(err).Str("config_id", configID).Msg("Could not read streaming status after teardown")
		return
	}
	if status == "active" {
		log.Warn().Str("config_id", configID).Msg("Bridge still reports streaming as active")
	}
}

// Close releases all resources.
func (s *HueService) Close() {
	if s.Client != nil {
		s.Client.Close()
	}
}
