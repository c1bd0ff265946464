// Package scheduler runs the streaming loop: at a fixed refresh rate it
// captures a frame, samples every active channel, smooths the colors and
// sends one datagram through the streaming session.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/ambilightd/internal/capture"
	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/interp"
	"github.com/dokzlo13/ambilightd/internal/ledger"
	"github.com/dokzlo13/ambilightd/internal/rgb"
	"github.com/dokzlo13/ambilightd/internal/sampler"
	"github.com/dokzlo13/ambilightd/internal/stream"
)

var (
	ErrAlreadyRunning   = errors.New("streaming already running")
	ErrNoConfiguration  = errors.New("no entertainment configuration selected")
	ErrNoActiveChannels = errors.New("no active channel to stream")
)

// Defaults for Options.
const (
	DefaultRefreshRate = 25
	DefaultPreviewRate = 10.0
	statsInterval      = time.Second
)

// Session is the part of a streaming session the loop drives.
type Session interface {
	Open(ctx context.Context) error
	Send(records []stream.Record) error
	KeepAlive() error
	Close(ctx context.Context) error
}

// SessionFactory creates an idle session for a configuration.
type SessionFactory func(configID string) Session

// ChannelSource is the registry view read on every tick.
type ChannelSource interface {
	Current() (entertainment.Configuration, bool)
	ActiveChannels() []entertainment.Channel
}

// Stats are the loop counters of the current (or last) streaming run.
type Stats struct {
	Ticks    uint64 `json:"ticks"`
	Sent     uint64 `json:"sent"`
	Skipped  uint64 `json:"skipped"`
	Overruns uint64 `json:"overruns"`
}

// Deps are the collaborators of the scheduler. Bus and Ledger are optional.
type Deps struct {
	Channels ChannelSource
	Capture  *capture.Bounded
	Interp   *interp.Interpolator
	Sessions SessionFactory
	Bus      *eventbus.Bus
	Ledger   *ledger.Ledger
}

// Options tune the loop. Zero values select defaults.
type Options struct {
	RefreshRate    int
	SubsampleWidth int
	// MaxRefreshRate caps RefreshRate; defaults to the capture source's display rate.
	MaxRefreshRate int
	// PreviewRate limits preview events per second.
	PreviewRate float64
}

// Scheduler owns the streaming loop. Start runs it on the caller's goroutine;
// settings and Stop may be called from any goroutine.
type Scheduler struct {
	deps    Deps
	maxRate int

	refreshRate    atomic.Int64
	subsampleWidth atomic.Int64
	state          atomic.Int32

	ticks    atomic.Uint64
	sent     atomic.Uint64
	skipped  atomic.Uint64
	overruns atomic.Uint64

	preview *rate.Limiter
	stats   *rate.Limiter

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler.
func New(deps Deps, opts Options) *Scheduler {
	maxRate := opts.MaxRefreshRate
	if maxRate <= 0 {
		maxRate = deps.Capture.Source().Info().MaxRefreshRate
	}
	if maxRate <= 0 {
		maxRate = capture.DefaultMaxRefreshRate
	}
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = DefaultRefreshRate
	}
	if opts.SubsampleWidth <= 0 {
		opts.SubsampleWidth = sampler.DefaultSubsampleWidth
	}
	if opts.PreviewRate <= 0 {
		opts.PreviewRate = DefaultPreviewRate
	}

	s := &Scheduler{
		deps:    deps,
		maxRate: maxRate,
		preview: rate.NewLimiter(rate.Limit(opts.PreviewRate), 1),
		stats:   rate.NewLimiter(rate.Every(statsInterval), 1),
	}
	s.SetRefreshRate(opts.RefreshRate)
	s.SetSubsampleWidth(opts.SubsampleWidth)
	return s
}

// SetRefreshRate clamps v to [1, max refresh rate] and applies it from the next tick.
func (s *Scheduler) SetRefreshRate(v int) int {
	if v < 1 {
		v = 1
	}
	if v > s.maxRate {
		v = s.maxRate
	}
	s.refreshRate.Store(int64(v))
	return v
}

// RefreshRate returns the current refresh rate in Hz.
func (s *Scheduler) RefreshRate() int {
	return int(s.refreshRate.Load())
}

// MaxRefreshRate returns the upper refresh rate bound.
func (s *Scheduler) MaxRefreshRate() int {
	return s.maxRate
}

// Period returns the tick period for the current refresh rate.
func (s *Scheduler) Period() time.Duration {
	return time.Second / time.Duration(s.RefreshRate())
}

// SetSubsampleWidth clamps and applies the sampling grid width.
func (s *Scheduler) SetSubsampleWidth(v int) int {
	v = sampler.ClampSubsampleWidth(v)
	s.subsampleWidth.Store(int64(v))
	return v
}

// SubsampleWidth returns the current sampling grid width.
func (s *Scheduler) SubsampleWidth() int {
	return int(s.subsampleWidth.Load())
}

// State returns the lifecycle state of the streaming session.
func (s *Scheduler) State() stream.State {
	return stream.State(s.state.Load())
}

// IsRunning reports whether Start is in progress.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns the loop counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:    s.ticks.Load(),
		Sent:     s.sent.Load(),
		Skipped:  s.skipped.Load(),
		Overruns: s.overruns.Load(),
	}
}

// run is a reserved streaming run. The scheduler is marked running from the
// moment it is reserved, so Stop always finds it.
type run struct {
	ctx    context.Context
	config entertainment.Configuration
	finish func()
}

// reserve checks the preconditions and claims the scheduler under its lock.
func (s *Scheduler) reserve(ctx context.Context) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, ErrAlreadyRunning
	}
	config, ok := s.deps.Channels.Current()
	if !ok {
		return nil, ErrNoConfiguration
	}
	if len(s.deps.Channels.ActiveChannels()) == 0 {
		return nil, ErrNoActiveChannels
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done

	return &run{
		ctx:    ctx,
		config: config,
		finish: func() {
			cancel()
			s.mu.Lock()
			s.running = false
			s.cancel = nil
			s.mu.Unlock()
			close(done)
		},
	}, nil
}

// Start opens a session for the current configuration and streams until Stop
// is called, ctx is cancelled or the session fails. It returns nil after a
// requested stop and the session error otherwise. The session is closed
// before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	r, err := s.reserve(ctx)
	if err != nil {
		return err
	}
	return s.stream(r)
}

// Launch claims the scheduler and streams on a new goroutine. Precondition
// errors are returned directly; once Launch returns nil, IsRunning is true
// and a Stop call ends the run. onExit, if set, receives the run's result.
func (s *Scheduler) Launch(ctx context.Context, onExit func(error)) error {
	r, err := s.reserve(ctx)
	if err != nil {
		return err
	}
	go func() {
		err := s.stream(r)
		if onExit != nil {
			onExit(err)
		}
	}()
	return nil
}

func (s *Scheduler) stream(r *run) error {
	defer r.finish()

	ctx, config := r.ctx, r.config
	if ctx.Err() != nil {
		// Stopped before the session was opened.
		return nil
	}

	s.resetStats()
	sessionID := ledger.NewSessionID()
	session := s.deps.Sessions(config.ID)

	s.setState(stream.Activating, config.ID, nil)
	if err := session.Open(ctx); err != nil {
		if ctx.Err() != nil {
			s.setState(stream.Idle, config.ID, nil)
			return nil
		}
		s.setState(stream.Idle, config.ID, err)
		s.record(ledger.EventSessionFailed, sessionID, config.ID, map[string]any{"error": err.Error(), "phase": "open"})
		return err
	}

	s.setState(stream.Streaming, config.ID, nil)
	s.record(ledger.EventSessionStarted, sessionID, config.ID, map[string]any{
		"refresh_rate":    s.RefreshRate(),
		"subsample_width": s.SubsampleWidth(),
		"interpolation":   s.deps.Interp.Mode().String(),
	})
	log.Info().
		Str("config_id", config.ID).
		Str("session_id", sessionID).
		Int("refresh_rate", s.RefreshRate()).
		Msg("Streaming started")

	s.deps.Interp.ResetAll()
	loopErr := s.loop(ctx, session)

	s.setState(stream.Deactivating, config.ID, loopErr)
	if err := session.Close(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("Failed to close streaming session cleanly")
	}
	s.setState(stream.Idle, config.ID, loopErr)

	stats := s.Stats()
	payload := map[string]any{
		"ticks":    stats.Ticks,
		"sent":     stats.Sent,
		"skipped":  stats.Skipped,
		"overruns": stats.Overruns,
	}
	if loopErr != nil {
		payload["error"] = loopErr.Error()
		s.record(ledger.EventSessionFailed, sessionID, config.ID, payload)
		log.Error().Err(loopErr).Str("session_id", sessionID).Msg("Streaming session failed")
	} else {
		s.record(ledger.EventSessionStopped, sessionID, config.ID, payload)
		log.Info().Str("session_id", sessionID).Uint64("sent", stats.Sent).Msg("Streaming stopped")
	}
	s.publishStats()

	return loopErr
}

// Stop ends the running loop and waits for the session teardown. It returns
// false when nothing was running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return true
}

func (s *Scheduler) loop(ctx context.Context, session Session) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	var prev time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		start := time.Now()
		var dt time.Duration
		if !prev.IsZero() {
			dt = start.Sub(prev)
		}
		prev = start

		period := s.Period()
		if err := s.tick(ctx, session, period, dt); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := period - time.Since(start)
		if wait <= 0 {
			s.overruns.Add(1)
			wait = 0
		}
		timer.Reset(wait)
	}
}

func (s *Scheduler) tick(ctx context.Context, session Session, period, dt time.Duration) error {
	s.ticks.Add(1)
	defer s.maybePublishStats()

	frame, err := s.deps.Capture.CaptureWithin(ctx, period)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.skipped.Add(1)
		if errors.Is(err, capture.ErrCaptureUnavailable) {
			log.Debug().Err(err).Msg("Frame unavailable, skipping tick")
		} else {
			log.Warn().Err(err).Msg("Capture failed, skipping tick")
		}
		return session.KeepAlive()
	}

	channels := s.deps.Channels.ActiveChannels()
	width := s.SubsampleWidth()
	keep := make(map[uint8]struct{}, len(channels))
	records := make([]stream.Record, 0, len(channels))

	for _, ch := range channels {
		keep[ch.ID] = struct{}{}
		c := sampler.Sample(frame, ch.Region.Min, ch.Region.Max, width)
		c = rgb.ApplyGamma(c, ch.Gamma)
		c = s.deps.Interp.Advance(ch.ID, c, dt)
		records = append(records, stream.Record{Channel: ch.ID, Color: c})
	}
	s.deps.Interp.Retain(keep)

	if len(records) == 0 {
		return session.KeepAlive()
	}
	if err := session.Send(records); err != nil {
		return err
	}
	s.sent.Add(1)
	s.publishPreview(records)
	return nil
}

func (s *Scheduler) resetStats() {
	s.ticks.Store(0)
	s.sent.Store(0)
	s.skipped.Store(0)
	s.overruns.Store(0)
}

func (s *Scheduler) setState(st stream.State, configID string, err error) {
	s.state.Store(int32(st))
	if s.deps.Bus == nil {
		return
	}
	data := map[string]interface{}{
		"state":     st.String(),
		"config_id": configID,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.deps.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeStreamingState, Data: data})
}

func (s *Scheduler) record(eventType ledger.EventType, sessionID, configID string, payload map[string]any) {
	if s.deps.Ledger == nil {
		return
	}
	if err := s.deps.Ledger.Append(eventType, sessionID, configID, payload); err != nil {
		log.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to record session event")
	}
}

func (s *Scheduler) publishPreview(records []stream.Record) {
	if s.deps.Bus == nil || !s.preview.Allow() {
		return
	}
	colors := make([]eventbus.ChannelColor, len(records))
	for i, rec := range records {
		colors[i] = eventbus.ChannelColor{Channel: rec.Channel, Color: rec.Color.Clamped().Hex()}
	}
	s.deps.Bus.Publish(eventbus.Event{
		Type: eventbus.EventTypePreview,
		Data: map[string]interface{}{"colors": colors},
	})
}

func (s *Scheduler) maybePublishStats() {
	if s.deps.Bus == nil || !s.stats.Allow() {
		return
	}
	s.publishStats()
}

func (s *Scheduler) publishStats() {
	if s.deps.Bus == nil {
		return
	}
	st := s.Stats()
	s.deps.Bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeStreamingStats,
		Data: map[string]interface{}{
			"ticks":        st.Ticks,
			"sent":         st.Sent,
			"skipped":      st.Skipped,
			"overruns":     st.Overruns,
			"refresh_rate": s.RefreshRate(),
		},
	})
}
