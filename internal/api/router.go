package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// maxRequestBodySize bounds request bodies; every control request is a small JSON value.
const maxRequestBodySize = 64 << 10

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	r.Use(limitBody)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)

		r.Get("/entertainment-configurations", s.handleListConfigurations)
		r.Put("/entertainment-configuration", s.handleSelectConfiguration)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetChannel)
				r.Put("/uv", s.handleSetChannelUV)
				r.Put("/gamma", s.handleSetChannelGamma)
				r.Post("/activity", s.handleSetChannelActivity)
			})
		})

		r.Route("/display", func(r chi.Router) {
			r.Get("/", s.handleDisplay)
			r.Put("/subsample-width", s.handleSetSubsampleWidth)
			r.Put("/refresh-rate", s.handleSetRefreshRate)
		})

		r.Get("/interpolation", s.handleInterpolation)
		r.Put("/interpolation", s.handleSetInterpolation)

		r.Post("/profile", s.handleSaveProfile)

		r.Route("/streaming", func(r chi.Router) {
			r.Get("/", s.handleStreamingStatus)
			r.Post("/start", s.handleStartStreaming)
			r.Post("/stop", s.handleStopStreaming)
			r.Get("/history", s.handleHistory)
			r.Get("/history/{session}", s.handleSessionHistory)
		})
	})

	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}
