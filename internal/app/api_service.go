package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/api"
	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/core"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/ledger"
)

// APIService wraps the control-plane HTTP server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService. The server subscribes to the bus
// only when the API is enabled.
func NewAPIService(cfg *config.Config, c *core.Core, l *ledger.Ledger, bus *eventbus.Bus) *APIService {
	s := &APIService{cfg: cfg}
	if cfg.API.Enabled {
		s.server = api.NewServer(api.Deps{
			Addr:   cfg.API.Addr(),
			Core:   c,
			Ledger: l,
			Bus:    bus,
		})
	}
	return s
}

// Start begins the API server if enabled.
func (s *APIService) Start(ctx context.Context) {
	if s.server == nil {
		log.Debug().Msg("API server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()
}
