// Package profile persists user settings: the selected entertainment
// configuration, per-channel geometry for every configuration the user has
// edited, and the streaming tuning.
package profile

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/interp"
	"github.com/dokzlo13/ambilightd/internal/rgb"
	"github.com/dokzlo13/ambilightd/internal/state"
)

const (
	kind      = "profile"
	defaultID = "default"
)

// ChannelSettings is the persisted part of a channel.
type ChannelSettings struct {
	Active bool                 `json:"active"`
	Region entertainment.UVRect `json:"uvs"`
	Gamma  float64              `json:"gammaFactor"`
}

// Profile is the complete persisted user state.
type Profile struct {
	ConfigurationID string                               `json:"entertainmentConfigurationId"`
	Channels        map[string]map[uint8]ChannelSettings `json:"channels"`
	RefreshRate     int                                  `json:"refreshRate"`
	SubsampleWidth  int                                  `json:"subsampleWidth"`
	Interpolation   interp.Mode                          `json:"interpolation"`
}

// Restore returns a channel adjuster for Registry.Select that applies the
// saved settings of configID. Channels without saved settings are left as loaded.
func (p Profile) Restore(configID string) func(entertainment.Channel) entertainment.Channel {
	saved := p.Channels[configID]
	return func(ch entertainment.Channel) entertainment.Channel {
		s, ok := saved[ch.ID]
		if !ok {
			return ch
		}
		ch.Region = s.Region
		ch.Gamma = s.Gamma
		ch.State = entertainment.Inactive
		if s.Active {
			ch.State = entertainment.Active
		}
		return ch
	}
}

// Record replaces the saved settings of configID with the given channels.
func (p *Profile) Record(configID string, channels []entertainment.Channel) {
	if p.Channels == nil {
		p.Channels = make(map[string]map[uint8]ChannelSettings)
	}
	saved := make(map[uint8]ChannelSettings, len(channels))
	for _, ch := range channels {
		saved[ch.ID] = ChannelSettings{
			Active: ch.Active(),
			Region: ch.Region,
			Gamma:  rgb.ClampGamma(ch.Gamma),
		}
	}
	p.Channels[configID] = saved
}

// Store loads and saves the profile.
type Store struct {
	slot *state.Slot[Profile]
}

// NewStore creates a profile store on the shared state store.
func NewStore(s *state.Store) *Store {
	return &Store{slot: state.NewSlot[Profile](s, kind, defaultID)}
}

// Load returns the saved profile. ok is false when nothing was saved yet.
func (s *Store) Load() (Profile, bool, error) {
	p, ok, err := s.slot.Load()
	if err != nil {
		return Profile{}, false, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, ok, nil
}

// Save writes the profile, replacing any previous one.
func (s *Store) Save(p Profile) error {
	version, err := s.slot.Save(p)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	log.Debug().Int64("version", version).Str("config_id", p.ConfigurationID).Msg("Profile saved")
	return nil
}

// Reset deletes the saved profile.
func (s *Store) Reset() error {
	if err := s.slot.Clear(); err != nil {
		return fmt.Errorf("failed to reset profile: %w", err)
	}
	return nil
}
