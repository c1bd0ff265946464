// Package core is the facade the control plane talks to. It owns the
// channel registry, the streaming scheduler, the interpolator and the
// profile store, and exposes the operations that read and change them.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/capture"
	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/hue"
	"github.com/dokzlo13/ambilightd/internal/interp"
	"github.com/dokzlo13/ambilightd/internal/profile"
	"github.com/dokzlo13/ambilightd/internal/sampler"
	"github.com/dokzlo13/ambilightd/internal/scheduler"
)

var ErrNoProfileStore = errors.New("profile persistence is not configured")

// Deps are the collaborators of Core. Profiles, Bus and Bridge are optional.
type Deps struct {
	Registry  *entertainment.Registry
	Scheduler *scheduler.Scheduler
	Interp    *interp.Interpolator
	Display   capture.Source
	Profiles  *profile.Store
	Bus       *eventbus.Bus
	Version   string
	// Bridge is nil when the bridge could not be identified at startup.
	Bridge *hue.BridgeInfo
}

// ChannelInfo is a channel as reported to the control plane.
type ChannelInfo struct {
	ID      uint8                  `json:"id"`
	Devices []entertainment.Device `json:"devices"`
	Region  entertainment.UVRect   `json:"uvs"`
	Gamma   float64                `json:"gammaFactor"`
	Active  bool                   `json:"active"`
}

func channelInfo(ch entertainment.Channel) ChannelInfo {
	return ChannelInfo{
		ID:      ch.ID,
		Devices: ch.Devices,
		Region:  ch.Region,
		Gamma:   ch.Gamma,
		Active:  ch.Active(),
	}
}

// DisplayInfo describes the captured display and the sampling settings.
type DisplayInfo struct {
	Width          int                  `json:"x"`
	Height         int                  `json:"y"`
	SubsampleWidth int                  `json:"subsampleWidth"`
	Candidates     []sampler.Resolution `json:"subsampleResolutionCandidates"`
	RefreshRate    int                  `json:"selectedRefreshRate"`
	MaxRefreshRate int                  `json:"maxRefreshRate"`
}

// InterpolationOption names one interpolation mode.
type InterpolationOption struct {
	Name  string      `json:"name"`
	Value interp.Mode `json:"value"`
}

// InterpolationInfo lists the available modes and the selected one.
type InterpolationInfo struct {
	Available []InterpolationOption `json:"available"`
	Current   interp.Mode           `json:"current"`
}

// Status is the streaming status.
type Status struct {
	State           string          `json:"state"`
	Streaming       bool            `json:"streaming"`
	ConfigurationID string          `json:"entertainmentConfigurationId,omitempty"`
	Stats           scheduler.Stats `json:"stats"`
}

// Core implements the control-plane operations.
type Core struct {
	deps Deps

	mu      sync.Mutex
	profile profile.Profile
	baseCtx context.Context
	runs    sync.WaitGroup
}

// New creates a core. Nothing is selected until Restore or SelectConfiguration is called.
func New(deps Deps) *Core {
	return &Core{deps: deps, baseCtx: context.Background()}
}

// Restore loads the saved profile, applies its tuning and selects a
// configuration: the saved one when it still exists, then fallbackID, then
// the first known configuration. Channels keep their saved geometry.
func (c *Core) Restore(fallbackID string) error {
	if c.deps.Profiles != nil {
		p, ok, err := c.deps.Profiles.Load()
		if err != nil {
			return err
		}
		if ok {
			c.mu.Lock()
			c.profile = p
			c.mu.Unlock()
			c.applyTuning(p)
			log.Info().Str("config_id", p.ConfigurationID).Msg("Profile restored")
		}
	}

	candidates := []string{c.savedConfigurationID(), fallbackID}
	for _, cfg := range c.deps.Registry.Configurations() {
		candidates = append(candidates, cfg.ID)
	}
	for _, id := range candidates {
		if id == "" {
			continue
		}
		if c.SelectConfiguration(id) {
			return nil
		}
	}

	log.Warn().Msg("No entertainment configuration available")
	return nil
}

func (c *Core) applyTuning(p profile.Profile) {
	if p.RefreshRate > 0 {
		c.deps.Scheduler.SetRefreshRate(p.RefreshRate)
	}
	if p.SubsampleWidth > 0 {
		c.deps.Scheduler.SetSubsampleWidth(p.SubsampleWidth)
	}
	c.deps.Interp.SetMode(interp.ClampMode(p.Interpolation))
}

func (c *Core) savedConfigurationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.ConfigurationID
}

// Version returns the build version.
func (c *Core) Version() string {
	return c.deps.Version
}

// Bridge returns the identity of the connected bridge, if known.
func (c *Core) Bridge() (hue.BridgeInfo, bool) {
	if c.deps.Bridge == nil {
		return hue.BridgeInfo{}, false
	}
	return *c.deps.Bridge, true
}

// Configurations lists the known entertainment configurations.
func (c *Core) Configurations() []entertainment.Configuration {
	return c.deps.Registry.Configurations()
}

// CurrentConfiguration returns the selected configuration.
func (c *Core) CurrentConfiguration() (entertainment.Configuration, bool) {
	return c.deps.Registry.Current()
}

// SelectConfiguration makes id current and restores its saved channel
// settings. An unknown id returns false and leaves everything unchanged.
// A running stream is restarted against the new configuration.
func (c *Core) SelectConfiguration(id string) bool {
	if current, ok := c.deps.Registry.Current(); ok && current.ID == id {
		return true
	}
	if _, ok := c.findConfiguration(id); !ok {
		log.Warn().Str("config_id", id).Msg("Unknown entertainment configuration")
		return false
	}

	wasStreaming := c.deps.Scheduler.Stop()

	c.mu.Lock()
	restore := c.profile.Restore(id)
	c.mu.Unlock()

	if err := c.deps.Registry.Select(id, restore); err != nil {
		log.Warn().Err(err).Str("config_id", id).Msg("Failed to select entertainment configuration")
		return false
	}
	c.deps.Interp.ResetAll()

	if wasStreaming {
		if err := c.Launch(c.launchContext()); err != nil {
			log.Warn().Err(err).Str("config_id", id).Msg("Streaming not resumed after configuration change")
		}
	}
	return true
}

func (c *Core) findConfiguration(id string) (entertainment.Configuration, bool) {
	for _, cfg := range c.deps.Registry.Configurations() {
		if cfg.ID == id {
			return cfg, true
		}
	}
	return entertainment.Configuration{}, false
}

// Channels returns the channels of the current configuration.
func (c *Core) Channels() []ChannelInfo {
	channels := c.deps.Registry.Channels()
	out := make([]ChannelInfo, len(channels))
	for i, ch := range channels {
		out[i] = channelInfo(ch)
	}
	return out
}

// Channel returns one channel of the current configuration.
func (c *Core) Channel(id uint8) (ChannelInfo, bool) {
	ch, ok := c.deps.Registry.Channel(id)
	if !ok {
		return ChannelInfo{}, false
	}
	return channelInfo(ch), true
}

// SetChannelRegion moves one corner of a channel's region and returns the
// resulting normalized rectangle.
func (c *Core) SetChannelRegion(id uint8, corner entertainment.Corner, p entertainment.Point) (entertainment.UVRect, error) {
	r, err := c.deps.Registry.SetRegion(id, corner, p)
	if err != nil {
		return entertainment.UVRect{}, err
	}
	c.publishChannel(id)
	return r, nil
}

// SetChannelGamma sets a channel's gamma factor, clamped to the valid range.
// It returns false for an unknown channel.
func (c *Core) SetChannelGamma(id uint8, gamma float64) (float64, bool) {
	applied, err := c.deps.Registry.SetGamma(id, gamma)
	if err != nil {
		log.Debug().Err(err).Uint8("channel", id).Msg("Gamma not applied")
		return 0, false
	}
	c.publishChannel(id)
	return applied, true
}

// SetChannelActivity toggles whether a channel is streamed. A channel that
// becomes active starts from its first sample without ramping from stale state.
// It returns false for an unknown channel.
func (c *Core) SetChannelActivity(id uint8, active bool) bool {
	changed, err := c.deps.Registry.SetActivity(id, active)
	if err != nil {
		log.Debug().Err(err).Uint8("channel", id).Msg("Activity not applied")
		return false
	}
	if changed {
		c.deps.Interp.Reset(id)
		c.publishChannel(id)
	}
	return true
}

func (c *Core) publishChannel(id uint8) {
	if c.deps.Bus == nil {
		return
	}
	ch, ok := c.Channel(id)
	if !ok {
		return
	}
	c.deps.Bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeChannel,
		Data: map[string]interface{}{"channel": ch},
	})
}

// DisplayInfo describes the display and the current sampling settings.
func (c *Core) DisplayInfo() DisplayInfo {
	info := c.deps.Display.Info()
	return DisplayInfo{
		Width:          info.Width,
		Height:         info.Height,
		SubsampleWidth: c.deps.Scheduler.SubsampleWidth(),
		Candidates:     sampler.Candidates(info.Width, info.Height),
		RefreshRate:    c.deps.Scheduler.RefreshRate(),
		MaxRefreshRate: c.deps.Scheduler.MaxRefreshRate(),
	}
}

// SetSubsampleWidth clamps and applies the sampling grid width.
func (c *Core) SetSubsampleWidth(v int) int {
	return c.deps.Scheduler.SetSubsampleWidth(v)
}

// SetRefreshRate clamps and applies the refresh rate.
func (c *Core) SetRefreshRate(v int) int {
	return c.deps.Scheduler.SetRefreshRate(v)
}

// InterpolationInfo lists the interpolation modes.
func (c *Core) InterpolationInfo() InterpolationInfo {
	modes := interp.Modes()
	available := make([]InterpolationOption, 0, len(modes))
	for name, m := range modes {
		available = append(available, InterpolationOption{Name: name, Value: m})
	}
	sort.Slice(available, func(i, j int) bool { return available[i].Value < available[j].Value })
	return InterpolationInfo{Available: available, Current: c.deps.Interp.Mode()}
}

// SetInterpolationMode switches the interpolation mode, clamped to the known set.
func (c *Core) SetInterpolationMode(m interp.Mode) interp.Mode {
	return c.deps.Interp.SetMode(m)
}

// Start streams the current configuration until Stop is called, ctx is
// cancelled or the session fails.
func (c *Core) Start(ctx context.Context) error {
	return c.deps.Scheduler.Start(ctx)
}

// Launch starts streaming on a background goroutine. Preconditions are
// checked and the run is claimed before it returns, so a following Stop
// always ends it. The terminal result of the run is logged and published as
// a streaming state event.
func (c *Core) Launch(ctx context.Context) error {
	c.runs.Add(1)
	err := c.deps.Scheduler.Launch(ctx, func(err error) {
		defer c.runs.Done()
		if err != nil {
			log.Warn().Err(err).Msg("Streaming ended with error")
		}
	})
	if err != nil {
		c.runs.Done()
		return err
	}

	c.mu.Lock()
	c.baseCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()
	return nil
}

func (c *Core) launchContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseCtx
}

// Stop ends streaming and waits for teardown. It returns false when nothing was running.
func (c *Core) Stop() bool {
	return c.deps.Scheduler.Stop()
}

// Wait blocks until every launched run has returned.
func (c *Core) Wait() {
	c.runs.Wait()
}

// IsStreaming reports whether a streaming run is in progress.
func (c *Core) IsStreaming() bool {
	return c.deps.Scheduler.IsRunning()
}

// Status returns the streaming state and counters.
func (c *Core) Status() Status {
	st := Status{
		State:     c.deps.Scheduler.State().String(),
		Streaming: c.deps.Scheduler.IsRunning(),
		Stats:     c.deps.Scheduler.Stats(),
	}
	if cfg, ok := c.deps.Registry.Current(); ok {
		st.ConfigurationID = cfg.ID
	}
	return st
}

// Stats returns the loop counters of the current or last run.
func (c *Core) Stats() scheduler.Stats {
	return c.deps.Scheduler.Stats()
}

// SaveProfile persists the current configuration, its channel settings and
// the tuning. Settings saved for other configurations are kept.
func (c *Core) SaveProfile() error {
	if c.deps.Profiles == nil {
		return ErrNoProfileStore
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.profile
	p.Channels = make(map[string]map[uint8]profile.ChannelSettings, len(c.profile.Channels)+1)
	for id, saved := range c.profile.Channels {
		p.Channels[id] = saved
	}
	if cfg, ok := c.deps.Registry.Current(); ok {
		p.ConfigurationID = cfg.ID
		p.Record(cfg.ID, c.deps.Registry.Channels())
	}
	p.RefreshRate = c.deps.Scheduler.RefreshRate()
	p.SubsampleWidth = c.deps.Scheduler.SubsampleWidth()
	p.Interpolation = c.deps.Interp.Mode()

	if err := c.deps.Profiles.Save(p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	c.profile = p

	log.Info().Str("config_id", p.ConfigurationID).Msg("Profile saved")
	return nil
}
