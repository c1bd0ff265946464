package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/interp"
	"github.com/dokzlo13/ambilightd/internal/scheduler"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// decodeValue reads a body that is either a bare JSON value or an object
// holding the value under key.
func decodeValue(r *http.Request, key string, v any) error {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return err
		}
		field, ok := obj[key]
		if !ok {
			return fmt.Errorf("missing field %q", key)
		}
		raw = field
	}
	return json.Unmarshal(raw, v)
}

func channelID(r *http.Request) (uint8, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q", chi.URLParam(r, "id"))
	}
	return uint8(id), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "version": s.core.Version()})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if _, ok := s.core.CurrentConfiguration(); !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "ready": false})
		return
	}
	body := map[string]any{"status": "ready", "ready": true}
	if s.bus != nil {
		body["droppedEvents"] = s.bus.Dropped()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"version": s.core.Version()}
	if bridge, ok := s.core.Bridge(); ok {
		body["bridge"] = bridge
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"entertainmentConfigurations": s.core.Configurations()}
	if cfg, ok := s.core.CurrentConfiguration(); ok {
		resp["currentEntertainmentConfigurationId"] = cfg.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSelectConfiguration(w http.ResponseWriter, r *http.Request) {
	var id string
	if err := decodeValue(r, "id", &id); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.core.SelectConfiguration(id) {
		writeNotFound(w, "unknown entertainment configuration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"succeeded":                    true,
		"entertainmentConfigurationId": id,
		"channels":                     s.core.Channels(),
	})
}

func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Channels())
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	id, err := channelID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	ch, ok := s.core.Channel(id)
	if !ok {
		writeNotFound(w, "invalid channel id")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type uvRequest struct {
	X      float64              `json:"x"`
	Y      float64              `json:"y"`
	Corner entertainment.Corner `json:"type"`
}

func (s *Server) handleSetChannelUV(w http.ResponseWriter, r *http.Request) {
	id, err := channelID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var req uvRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid uv body")
		return
	}
	region, err := s.core.SetChannelRegion(id, req.Corner, entertainment.Point{X: req.X, Y: req.Y})
	if err != nil {
		writeNotFound(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, region)
}

func (s *Server) handleSetChannelGamma(w http.ResponseWriter, r *http.Request) {
	id, err := channelID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var gamma float64
	if err := decodeValue(r, "gammaFactor", &gamma); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	applied, ok := s.core.SetChannelGamma(id, gamma)
	if !ok {
		writeNotFound(w, "invalid channel id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"succeeded": true, "gammaFactor": applied})
}

func (s *Server) handleSetChannelActivity(w http.ResponseWriter, r *http.Request) {
	id, err := channelID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var active bool
	if err := decodeValue(r, "active", &active); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !s.core.SetChannelActivity(id, active) {
		writeNotFound(w, "invalid channel id")
		return
	}
	resp := map[string]any{"succeeded": true, "channels": s.core.Channels()}
	if active {
		resp["newActiveChannelId"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisplay(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.DisplayInfo())
}

func (s *Server) handleSetSubsampleWidth(w http.ResponseWriter, r *http.Request) {
	var width int
	if err := decodeValue(r, "subsampleWidth", &width); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.core.SetSubsampleWidth(width)
	info := s.core.DisplayInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"x":              info.Width,
		"y":              info.Height,
		"subsampleWidth": info.SubsampleWidth,
	})
}

func (s *Server) handleSetRefreshRate(w http.ResponseWriter, r *http.Request) {
	var rate int
	if err := decodeValue(r, "refreshRate", &rate); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshRate": s.core.SetRefreshRate(rate)})
}

func (s *Server) handleInterpolation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.InterpolationInfo())
}

func (s *Server) handleSetInterpolation(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := decodeValue(r, "interpolation", &raw); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var mode interp.Mode
	var value int
	var name string
	switch {
	case json.Unmarshal(raw, &value) == nil:
		mode = interp.Mode(value)
	case json.Unmarshal(raw, &name) == nil:
		m, err := interp.ParseMode(name)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		mode = m
	default:
		writeBadRequest(w, "interpolation must be a mode number or name")
		return
	}

	applied := s.core.SetInterpolationMode(mode)
	writeJSON(w, http.StatusOK, map[string]any{"interpolation": applied, "name": applied.String()})
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, _ *http.Request) {
	if err := s.core.SaveProfile(); err != nil {
		log.Error().Err(err).Msg("Failed to save profile")
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"succeeded": true})
}

func (s *Server) handleStreamingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.core.Status())
}

func (s *Server) handleStartStreaming(w http.ResponseWriter, r *http.Request) {
	// The run outlives the request; app shutdown stops it through the core.
	err := s.core.Launch(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.core.Status())
	case errors.Is(err, scheduler.ErrAlreadyRunning),
		errors.Is(err, scheduler.ErrNoConfiguration),
		errors.Is(err, scheduler.ErrNoActiveChannels):
		writeConflict(w, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

func (s *Server) handleStopStreaming(w http.ResponseWriter, _ *http.Request) {
	stopped := s.core.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped, "status": s.core.Status()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeNotFound(w, "session history is not enabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.ledger.Recent(limit)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeNotFound(w, "session history is not enabled")
		return
	}
	entries, err := s.ledger.Session(chi.URLParam(r, "session"))
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if len(entries) == 0 {
		writeNotFound(w, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
