package entertainment

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/rgb"
)

var (
	ErrUnknownConfiguration = errors.New("unknown entertainment configuration")
	ErrUnknownChannel       = errors.New("unknown channel")
	ErrNoConfiguration      = errors.New("no entertainment configuration selected")
)

// selection is the current configuration together with its live channel state.
// The channels map is only mutated under Registry.mu by replacing whole values.
type selection struct {
	config   Configuration
	channels map[uint8]Channel
}

// Registry owns the known entertainment configurations and the channel state
// of the selected one. Control-plane callers mutate it; the streaming loop
// reads snapshots. Every edit replaces a whole Channel value, and selecting
// a configuration swaps the whole selection, so readers never see a partial update.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Configuration
	current *selection
}

// NewRegistry creates a registry for the given topology. Nothing is selected.
func NewRegistry(configs []Configuration) *Registry {
	r := &Registry{configs: make(map[string]Configuration, len(configs))}
	for _, c := range configs {
		r.configs[c.ID] = c
	}
	return r
}

// Configurations lists the known configurations ordered by name then ID.
func (r *Registry) Configurations() []Configuration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Configuration, 0, len(r.configs))
	for _, c := range r.configs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Select makes the configuration with the given id current. Channel state
// starts from the topology defaults; restore, when non-nil, may adjust each
// channel before the selection becomes visible. An unknown id leaves the
// current selection untouched.
func (r *Registry) Select(id string, restore func(Channel) Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	config, ok := r.configs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConfiguration, id)
	}

	channels := make(map[uint8]Channel, len(config.Channels))
	for chID, ch := range config.Channels {
		if restore != nil {
			ch = restore(ch)
			ch.ID = chID
			ch.Region = ch.Region.Normalized()
			ch.Gamma = rgb.ClampGamma(ch.Gamma)
		}
		channels[chID] = ch
	}

	r.current = &selection{config: config, channels: channels}

	log.Info().
		Str("id", config.ID).
		Str("name", config.Name).
		Int("channels", len(channels)).
		Msg("Entertainment configuration selected")

	return nil
}

// Current returns the selected configuration.
func (r *Registry) Current() (Configuration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == nil {
		return Configuration{}, false
	}
	return r.current.config, true
}

// Channels returns a snapshot of all channels of the current configuration, ordered by ID.
func (r *Registry) Channels() []Channel {
	return r.snapshot(false)
}

// ActiveChannels returns a snapshot of the active channels, ordered by ID.
func (r *Registry) ActiveChannels() []Channel {
	return r.snapshot(true)
}

func (r *Registry) snapshot(activeOnly bool) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == nil {
		return nil
	}

	out := make([]Channel, 0, len(r.current.channels))
	for _, ch := range r.current.channels {
		if activeOnly && !ch.Active() {
			continue
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Channel returns one channel of the current configuration.
func (r *Registry) Channel(id uint8) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == nil {
		return Channel{}, false
	}
	ch, ok := r.current.channels[id]
	return ch, ok
}

// SetRegion moves one corner of a channel's region and returns the resulting rectangle.
func (r *Registry) SetRegion(id uint8, corner Corner, p Point) (UVRect, error) {
	var region UVRect
	err := r.update(id, func(ch Channel) Channel {
		ch.Region = MoveCorner(ch.Region, corner, p)
		region = ch.Region
		return ch
	})
	return region, err
}

// SetGamma sets a channel's gamma factor, clamped to the valid range.
func (r *Registry) SetGamma(id uint8, gamma float64) (float64, error) {
	var applied float64
	err := r.update(id, func(ch Channel) Channel {
		ch.Gamma = rgb.ClampGamma(gamma)
		applied = ch.Gamma
		return ch
	})
	return applied, err
}

// SetActivity marks a channel active or inactive. It reports whether the state changed.
func (r *Registry) SetActivity(id uint8, active bool) (bool, error) {
	want := Inactive
	if active {
		want = Active
	}

	var changed bool
	err := r.update(id, func(ch Channel) Channel {
		changed = ch.State != want
		ch.State = want
		return ch
	})
	return changed, err
}

func (r *Registry) update(id uint8, modify func(Channel) Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return ErrNoConfiguration
	}
	ch, ok := r.current.channels[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	r.current.channels[id] = modify(ch)
	return nil
}
