package core

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dokzlo13/ambilightd/internal/capture"
	"github.com/dokzlo13/ambilightd/internal/db"
	"github.com/dokzlo13/ambilightd/internal/entertainment"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/interp"
	"github.com/dokzlo13/ambilightd/internal/profile"
	"github.com/dokzlo13/ambilightd/internal/scheduler"
	"github.com/dokzlo13/ambilightd/internal/state"
	"github.com/dokzlo13/ambilightd/internal/stream"
)

const (
	livingRoomID = "1a8d99cc-967b-44f2-9202-43f976c0fa6b"
	officeID     = "5e2c7d10-8b4f-4c1e-9a3b-2f6d8e1a7c90"
)

type fakeSession struct {
	mu     sync.Mutex
	sends  [][]stream.Record
	closed bool
}

func (f *fakeSession) Open(context.Context) error { return nil }

func (f *fakeSession) Send(records []stream.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, append([]stream.Record(nil), records...))
	return nil
}

func (f *fakeSession) KeepAlive() error { return nil }

func (f *fakeSession) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// sentSince returns the datagrams sent after the first n.
func (f *fakeSession) sentSince(n int) [][]stream.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n >= len(f.sends) {
		return nil
	}
	return append([][]stream.Record(nil), f.sends[n:]...)
}

// solidDisplay renders a solid color that can be changed while streaming.
type solidDisplay struct {
	mu  sync.Mutex
	src capture.Source
}

func newSolidDisplay(t *testing.T, hex string) *solidDisplay {
	d := &solidDisplay{}
	d.set(t, hex)
	return d
}

func (d *solidDisplay) set(t *testing.T, hex string) {
	t.Helper()
	src, err := capture.Open(capture.Options{
		Backend: capture.BackendPattern,
		Pattern: capture.PatternOptions{Mode: capture.PatternSolid, Color: hex, Width: 64, Height: 36},
	})
	if err != nil {
		t.Fatal(err)
	}
	d.mu.Lock()
	d.src = src
	d.mu.Unlock()
}

func (d *solidDisplay) current() capture.Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src
}

func (d *solidDisplay) Capture(ctx context.Context) (*capture.Frame, error) {
	return d.current().Capture(ctx)
}

func (d *solidDisplay) Info() capture.DisplayInfo { return d.current().Info() }
func (d *solidDisplay) Close() error              { return nil }

type sessionLog struct {
	mu       sync.Mutex
	configs  []string
	sessions []*fakeSession
}

func (l *sessionLog) factory(configID string) scheduler.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &fakeSession{}
	l.configs = append(l.configs, configID)
	l.sessions = append(l.sessions, s)
	return s
}

func (l *sessionLog) opened() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.configs...)
}

func (l *sessionLog) last() *fakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sessions) == 0 {
		return nil
	}
	return l.sessions[len(l.sessions)-1]
}

func testConfigurations() []entertainment.Configuration {
	build := func(id, name string, n uint8) entertainment.Configuration {
		cfg := entertainment.Configuration{ID: id, Name: name, Channels: map[uint8]entertainment.Channel{}}
		for ch := uint8(0); ch < n; ch++ {
			cfg.Channels[ch] = entertainment.NewChannel(ch, nil)
		}
		return cfg
	}
	return []entertainment.Configuration{
		build(livingRoomID, "Living room", 3),
		build(officeID, "Office", 2),
	}
}

type fixture struct {
	core     *Core
	registry *entertainment.Registry
	interp   *interp.Interpolator
	sched    *scheduler.Scheduler
	profiles *profile.Store
	sessions *sessionLog
	bus      *eventbus.Bus
	display  *solidDisplay
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("db.Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	src := newSolidDisplay(t, "#ff8000")

	bus := eventbus.New()
	t.Cleanup(func() { bus.Close(context.Background()) })

	f := &fixture{
		registry: entertainment.NewRegistry(testConfigurations()),
		interp:   interp.New(interp.Step),
		profiles: profile.NewStore(state.NewStore(database.DB)),
		sessions: &sessionLog{},
		bus:      bus,
		display:  src,
	}
	f.sched = scheduler.New(scheduler.Deps{
		Channels: f.registry,
		Capture:  capture.NewBounded(src),
		Interp:   f.interp,
		Sessions: f.sessions.factory,
	}, scheduler.Options{RefreshRate: 60})
	f.core = New(Deps{
		Registry:  f.registry,
		Scheduler: f.sched,
		Interp:    f.interp,
		Display:   src,
		Profiles:  f.profiles,
		Bus:       bus,
		Version:   "test",
	})
	t.Cleanup(func() {
		f.core.Stop()
		f.core.Wait()
	})
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRestore_NoProfileSelectsFallback(t *testing.T) {
	f := newFixture(t)

	if err := f.core.Restore(officeID); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	cfg, ok := f.core.CurrentConfiguration()
	if !ok || cfg.ID != officeID {
		t.Errorf("current = %q, %v; want office", cfg.ID, ok)
	}
}

func TestRestore_UnknownFallbackSelectsFirst(t *testing.T) {
	f := newFixture(t)

	if err := f.core.Restore("gone"); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	cfg, ok := f.core.CurrentConfiguration()
	if !ok || cfg.ID != livingRoomID {
		t.Errorf("current = %q, %v; want living room (first by name)", cfg.ID, ok)
	}
}

func TestSelectConfiguration_UnknownKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	if !f.core.SelectConfiguration(livingRoomID) {
		t.Fatal("select living room failed")
	}
	f.core.SetChannelActivity(1, true)

	if f.core.SelectConfiguration("does-not-exist") {
		t.Fatal("selecting an unknown id succeeded")
	}
	cfg, _ := f.core.CurrentConfiguration()
	if cfg.ID != livingRoomID {
		t.Errorf("current = %q, want living room", cfg.ID)
	}
	if ch, _ := f.core.Channel(1); !ch.Active {
		t.Error("channel state was discarded by a failed selection")
	}
}

func TestSaveProfile_RoundTripsThroughRestore(t *testing.T) {
	f := newFixture(t)
	f.core.SelectConfiguration(officeID)
	f.core.SetChannelActivity(1, true)
	f.core.SetChannelGamma(1, 0.25)
	f.core.SetChannelRegion(1, entertainment.CornerMin, entertainment.Point{X: 0.5, Y: 0.5})
	f.core.SetRefreshRate(30)
	f.core.SetSubsampleWidth(16)
	f.core.SetInterpolationMode(interp.Cosine)

	if err := f.core.SaveProfile(); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	g := newFixture(t)
	g.profiles = f.profiles
	g.core.deps.Profiles = f.profiles
	if err := g.core.Restore(livingRoomID); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	cfg, _ := g.core.CurrentConfiguration()
	if cfg.ID != officeID {
		t.Errorf("restored configuration = %q, want office", cfg.ID)
	}
	ch, ok := g.core.Channel(1)
	if !ok || !ch.Active || ch.Gamma != 0.25 || ch.Region.Min != (entertainment.Point{X: 0.5, Y: 0.5}) {
		t.Errorf("restored channel 1 = %+v", ch)
	}
	if g.sched.RefreshRate() != 30 || g.sched.SubsampleWidth() != 16 || g.interp.Mode() != interp.Cosine {
		t.Errorf("restored tuning = %d Hz, width %d, %v", g.sched.RefreshRate(), g.sched.SubsampleWidth(), g.interp.Mode())
	}
}

func TestSaveProfile_KeepsOtherConfigurations(t *testing.T) {
	f := newFixture(t)

	f.core.SelectConfiguration(officeID)
	f.core.SetChannelActivity(0, true)
	if err := f.core.SaveProfile(); err != nil {
		t.Fatal(err)
	}

	f.core.SelectConfiguration(livingRoomID)
	f.core.SetChannelActivity(2, true)
	if err := f.core.SaveProfile(); err != nil {
		t.Fatal(err)
	}

	p, ok, err := f.profiles.Load()
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if p.ConfigurationID != livingRoomID {
		t.Errorf("saved configuration = %q", p.ConfigurationID)
	}
	if !p.Channels[officeID][0].Active || !p.Channels[livingRoomID][2].Active {
		t.Errorf("saved channels = %+v", p.Channels)
	}

	// Switching back restores the office channel state from the profile.
	f.core.SelectConfiguration(officeID)
	if ch, _ := f.core.Channel(0); !ch.Active {
		t.Error("office channel 0 not restored on reselect")
	}
}

func TestSaveProfile_NoStore(t *testing.T) {
	f := newFixture(t)
	f.core.deps.Profiles = nil

	if err := f.core.SaveProfile(); !errors.Is(err, ErrNoProfileStore) {
		t.Errorf("SaveProfile = %v, want ErrNoProfileStore", err)
	}
}

func TestChannelEdits_UnknownChannel(t *testing.T) {
	f := newFixture(t)
	f.core.SelectConfiguration(officeID)

	if f.core.SetChannelActivity(9, true) {
		t.Error("SetChannelActivity on unknown channel succeeded")
	}
	if _, ok := f.core.SetChannelGamma(9, 0.5); ok {
		t.Error("SetChannelGamma on unknown channel succeeded")
	}
	if _, err := f.core.SetChannelRegion(9, entertainment.CornerMax, entertainment.Point{}); !errors.Is(err, entertainment.ErrUnknownChannel) {
		t.Errorf("SetChannelRegion = %v, want ErrUnknownChannel", err)
	}
}

func TestSetChannelGamma_Clamps(t *testing.T) {
	f := newFixture(t)
	f.core.SelectConfiguration(officeID)

	got, ok := f.core.SetChannelGamma(0, 7)
	if !ok || got != 1 {
		t.Errorf("SetChannelGamma(7) = %v, %v; want 1, true", got, ok)
	}
}

func TestSetChannelActivity_PublishesChannel(t *testing.T) {
	f := newFixture(t)
	f.core.SelectConfiguration(officeID)

	got := make(chan ChannelInfo, 1)
	f.bus.Subscribe(eventbus.EventTypeChannel, func(e eventbus.Event) {
		got <- e.Data["channel"].(ChannelInfo)
	})

	f.core.SetChannelActivity(1, true)

	select {
	case ch := <-got:
		if ch.ID != 1 || !ch.Active {
			t.Errorf("published channel = %+v", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("no channel event published")
	}
}

func TestDisplayInfo(t *testing.T) {
	f := newFixture(t)
	f.core.SetSubsampleWidth(1000)

	info := f.core.DisplayInfo()
	if info.Width != 64 || info.Height != 36 {
		t.Errorf("display = %dx%d, want 64x36", info.Width, info.Height)
	}
	if info.SubsampleWidth != 100 {
		t.Errorf("subsample width = %d, want clamped 100", info.SubsampleWidth)
	}
	if info.RefreshRate != 60 || info.MaxRefreshRate < info.RefreshRate {
		t.Errorf("refresh = %d of %d", info.RefreshRate, info.MaxRefreshRate)
	}
	if len(info.Candidates) == 0 {
		t.Error("no subsample resolution candidates")
	}
}

func TestInterpolationInfo(t *testing.T) {
	f := newFixture(t)

	if got := f.core.SetInterpolationMode(interp.Mode(42)); got != interp.Cosine {
		t.Errorf("SetInterpolationMode(42) = %v, want clamped cosine", got)
	}
	info := f.core.InterpolationInfo()
	if info.Current != interp.Cosine {
		t.Errorf("current = %v", info.Current)
	}
	if len(info.Available) != 4 {
		t.Fatalf("available = %+v", info.Available)
	}
	for i, opt := range info.Available {
		if opt.Value != interp.Mode(i) || opt.Name != opt.Value.String() {
			t.Errorf("available[%d] = %+v", i, opt)
		}
	}
}

func TestLaunch_Preconditions(t *testing.T) {
	f := newFixture(t)

	if err := f.core.Launch(context.Background()); !errors.Is(err, scheduler.ErrNoConfiguration) {
		t.Errorf("Launch without selection = %v, want ErrNoConfiguration", err)
	}

	f.core.SelectConfiguration(officeID)
	if err := f.core.Launch(context.Background()); !errors.Is(err, scheduler.ErrNoActiveChannels) {
		t.Errorf("Launch without active channels = %v, want ErrNoActiveChannels", err)
	}
	if n := len(f.sessions.opened()); n != 0 {
		t.Errorf("%d sessions created by rejected launches", n)
	}
}

func TestLaunch_StreamsUntilStop(t *testing.T) {
	f := newFixture(t)
	f.core.SelectConfiguration(officeID)
	f.core.SetChannelActivity(0, true)

	if err := f.core.Launch(context.Background()); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	waitFor(t, "datagrams", func() bool {
		s := f.sessions.last()
		return s != nil && s.sendCount() >= 3
	})
	if !f.core.IsStreaming() {
		t.Error("IsStreaming = false while running")
	}
	if st := f.core.Status(); st.State != stream.Streaming.String() || st.ConfigurationID != officeID {
		t.Errorf("status = %+v", st)
	}

	if !f.core.Stop() {
		t.Error("Stop returned false while running")
	}
	f.core.Wait()
	if f.core.IsStreaming() {
		t.Error("IsStreaming = true after Stop")
	}
	if !f.sessions.last().closed {
		t.Error("session not closed after Stop")
	}
	if f.core.Stop() {
		t.Error("second Stop returned true")
	}
}

func TestSelectConfiguration_RestartsStream(t *testing.T) {
	f := newFixture(t)
	f.core.SelectConfiguration(officeID)
	f.core.SetChannelActivity(0, true)
	f.core.SelectConfiguration(livingRoomID)
	f.core.SetChannelActivity(2, true)
	f.core.SelectConfiguration(officeID)
	// Unsaved channel state is discarded on reselect.
	f.core.SetChannelActivity(0, true)

	if err := f.core.Launch(context.Background()); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	waitFor(t, "first session", func() bool { return len(f.sessions.opened()) == 1 })

	// Living room has no active channel after reselect, so streaming cannot resume.
	if !f.core.SelectConfiguration(livingRoomID) {
		t.Fatal("select living room failed")
	}
	if f.core.IsStreaming() {
		t.Error("streaming resumed without active channels")
	}

	f.core.SetChannelActivity(2, true)
	if err := f.core.Launch(context.Background()); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	waitFor(t, "second session", func() bool { return len(f.sessions.opened()) == 2 })

	// Save living room, then stream the office with its own saved state.
	if err := f.core.SaveProfile(); err != nil {
		t.Fatal(err)
	}
	if !f.core.SelectConfiguration(officeID) {
		t.Fatal("select office failed")
	}
	f.core.SetChannelActivity(0, true)
	if err := f.core.SaveProfile(); err != nil {
		t.Fatal(err)
	}
	if err := f.core.Launch(context.Background()); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	waitFor(t, "third session", func() bool { return len(f.sessions.opened()) == 3 })

	// A saved configuration with active channels resumes streaming on its own.
	if !f.core.SelectConfiguration(livingRoomID) {
		t.Fatal("select living room failed")
	}
	waitFor(t, "restarted session", func() bool {
		opened := f.sessions.opened()
		return len(opened) == 4 && opened[3] == livingRoomID
	})
	want := []string{officeID, livingRoomID, officeID, livingRoomID}
	for i, id := range f.sessions.opened() {
		if id != want[i] {
			t.Errorf("session %d opened for %q, want %q", i, id, want[i])
		}
	}
}

func TestLaunch_StopRightAfterLaunch(t *testing.T) {
	f := newFixture(t)
	f.core.SelectConfiguration(officeID)
	f.core.SetChannelActivity(0, true)

	for i := 0; i < 50; i++ {
		if err := f.core.Launch(context.Background()); err != nil {
			t.Fatalf("Launch %d failed: %v", i, err)
		}
		if !f.core.Stop() {
			t.Fatalf("Stop after launch %d found nothing running", i)
		}
	}

	waited := make(chan struct{})
	go func() {
		f.core.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(3 * time.Second):
		t.Fatal("Wait blocked after every run was stopped")
	}

	time.Sleep(30 * time.Millisecond)
	if f.core.IsStreaming() {
		t.Error("streaming continued after Stop")
	}
}

func TestSetChannelActivity_ReactivatedChannelStartsFresh(t *testing.T) {
	f := newFixture(t)
	f.core.SetInterpolationMode(interp.Exponential)
	f.core.SelectConfiguration(officeID)
	f.core.SetChannelActivity(0, true)
	f.core.SetChannelActivity(1, true)

	if err := f.core.Launch(context.Background()); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	waitFor(t, "datagrams", func() bool {
		s := f.sessions.last()
		return s != nil && s.sendCount() >= 3
	})
	session := f.sessions.last()

	f.core.SetChannelActivity(1, false)
	f.display.set(t, "#0000ff")
	n := session.sendCount()
	waitFor(t, "datagrams without channel 1", func() bool { return session.sendCount() >= n+2 })

	n = session.sendCount()
	f.core.SetChannelActivity(1, true)

	var first stream.Record
	waitFor(t, "channel 1 back in a datagram", func() bool {
		for _, records := range session.sentSince(n) {
			for _, r := range records {
				if r.Channel == 1 {
					first = r
					return true
				}
			}
		}
		return false
	})

	blue := colorful.Color{B: 1}
	if first.Color != blue {
		t.Errorf("first color after reactivation = %v, want the fresh sample %v", first.Color, blue)
	}
}
