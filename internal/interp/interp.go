// Package interp smooths per-channel color sequences between ticks.
package interp

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

// Mode selects the smoothing algorithm. The set is closed.
type Mode int

const (
	Step Mode = iota
	Linear
	Exponential
	Cosine
)

// DefaultMode is used when nothing is configured.
const DefaultMode = Exponential

var modeNames = [...]string{
	Step:        "step",
	Linear:      "linear",
	Exponential: "exponential",
	Cosine:      "cosine",
}

func (m Mode) String() string {
	if m < Step || m > Cosine {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ClampMode maps out-of-range values to the nearest valid mode.
func ClampMode(m Mode) Mode {
	if m < Step {
		return Step
	}
	if m > Cosine {
		return Cosine
	}
	return m
}

// ParseMode accepts a mode name (case-insensitive).
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(m), nil
		}
	}
	return Step, fmt.Errorf("unknown interpolation mode %q", s)
}

// Modes returns every mode by name, in order.
func Modes() map[string]Mode {
	out := make(map[string]Mode, len(modeNames))
	for m, name := range modeNames {
		out[name] = Mode(m)
	}
	return out
}

// Tuning constants shared by the smoothing algorithms.
const (
	// LinearRate is the largest per-second change of one color component.
	LinearRate = 4.0
	// ExponentialTau is the time constant of the exponential low-pass.
	ExponentialTau = 80 * time.Millisecond
	// CosineDuration is the length of one eased transition.
	CosineDuration = 250 * time.Millisecond
)

// channelState is the history kept per channel.
type channelState struct {
	emitted colorful.Color

	// cosine easing
	from   colorful.Color
	target colorful.Color
	phase  float64
}

// algorithm advances one channel's state toward target and returns the color to emit.
type algorithm interface {
	advance(st *channelState, target colorful.Color, dt time.Duration) colorful.Color
}

func algorithmFor(m Mode) algorithm {
	switch m {
	case Linear:
		return linear{rate: LinearRate}
	case Exponential:
		return exponential{tau: ExponentialTau}
	case Cosine:
		return cosine{duration: CosineDuration}
	default:
		return step{}
	}
}

// Interpolator keeps smoothing state per channel. Advance is called by the
// streaming loop; Reset and SetMode may be called concurrently by control-plane callers.
type Interpolator struct {
	mu     sync.Mutex
	mode   Mode
	algo   algorithm
	states map[uint8]*channelState
}

// New creates an interpolator using mode m (clamped).
func New(m Mode) *Interpolator {
	m = ClampMode(m)
	return &Interpolator{
		mode:   m,
		algo:   algorithmFor(m),
		states: make(map[uint8]*channelState),
	}
}

// Mode returns the current mode.
func (i *Interpolator) Mode() Mode {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mode
}

// SetMode switches algorithm and drops all channel history. It returns the applied mode.
func (i *Interpolator) SetMode(m Mode) Mode {
	m = ClampMode(m)

	i.mu.Lock()
	defer i.mu.Unlock()

	i.mode = m
	i.algo = algorithmFor(m)
	i.states = make(map[uint8]*channelState)
	return m
}

// Advance returns the color to emit for channel id this tick. A channel without
// history starts directly at target.
func (i *Interpolator) Advance(id uint8, target colorful.Color, dt time.Duration) colorful.Color {
	i.mu.Lock()
	defer i.mu.Unlock()

	st, ok := i.states[id]
	if !ok {
		i.states[id] = &channelState{emitted: target, from: target, target: target, phase: 1}
		return target
	}
	if dt < 0 {
		dt = 0
	}

	st.emitted = i.algo.advance(st, target, dt)
	return st.emitted
}

// Reset drops the history of one channel.
func (i *Interpolator) Reset(id uint8) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.states, id)
}

// Retain drops the history of every channel not in keep.
func (i *Interpolator) Retain(keep map[uint8]struct{}) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id := range i.states {
		if _, ok := keep[id]; !ok {
			delete(i.states, id)
		}
	}
}

// ResetAll drops the history of every channel.
func (i *Interpolator) ResetAll() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.states = make(map[uint8]*channelState)
}

type step struct{}

func (step) advance(_ *channelState, target colorful.Color, _ time.Duration) colorful.Color {
	return target
}

// linear moves every component toward its target by at most rate·dt.
type linear struct {
	rate float64
}

func (l linear) advance(st *channelState, target colorful.Color, dt time.Duration) colorful.Color {
	maxStep := l.rate * dt.Seconds()
	return colorful.Color{
		R: approach(st.emitted.R, target.R, maxStep),
		G: approach(st.emitted.G, target.G, maxStep),
		B: approach(st.emitted.B, target.B, maxStep),
	}
}

func approach(cur, target, maxStep float64) float64 {
	d := target - cur
	if math.Abs(d) <= maxStep {
		return target
	}
	return cur + math.Copysign(maxStep, d)
}

// exponential is a first-order low-pass: the remaining distance shrinks by
// exp(-dt/tau) each tick, independent of the refresh rate.
type exponential struct {
	tau time.Duration
}

func (e exponential) advance(st *channelState, target colorful.Color, dt time.Duration) colorful.Color {
	k := 1 - math.Exp(-dt.Seconds()/e.tau.Seconds())
	return colorful.Color{
		R: st.emitted.R + (target.R-st.emitted.R)*k,
		G: st.emitted.G + (target.G-st.emitted.G)*k,
		B: st.emitted.B + (target.B-st.emitted.B)*k,
	}
}

// cosine eases from the color emitted when the target last changed to the
// new target over a fixed duration.
type cosine struct {
	duration time.Duration
}

func (c cosine) advance(st *channelState, target colorful.Color, dt time.Duration) colorful.Color {
	if target != st.target {
		st.from = st.emitted
		st.target = target
		st.phase = 0
	}

	st.phase = math.Min(1, st.phase+dt.Seconds()/c.duration.Seconds())
	if st.phase >= 1 {
		return target
	}

	w := (1 - math.Cos(math.Pi*st.phase)) / 2
	return colorful.Color{
		R: st.from.R + (target.R-st.from.R)*w,
		G: st.from.G + (target.G-st.from.G)*w,
		B: st.from.B + (target.B-st.from.B)*w,
	}
}
