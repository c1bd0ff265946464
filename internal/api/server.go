// Package api serves the HTTP control plane: channel geometry and tuning,
// streaming start/stop, profile saving, session history, health checks and
// a websocket feed of live channel colors.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/core"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/ledger"
)

// Deps are the collaborators of the server. Ledger and Bus are optional.
type Deps struct {
	Addr   string
	Core   *core.Core
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus
}

// Server is the control-plane HTTP server.
type Server struct {
	addr       string
	core       *core.Core
	ledger     *ledger.Ledger
	bus        *eventbus.Bus
	hub        *Hub
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a server and subscribes its websocket hub to the bus.
func NewServer(deps Deps) *Server {
	s := &Server{
		addr:   deps.Addr,
		core:   deps.Core,
		ledger: deps.Ledger,
		bus:    deps.Bus,
		hub:    NewHub(),
	}
	if deps.Bus != nil {
		s.hub.Attach(deps.Bus)
	}
	s.handler = s.buildRouter()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
