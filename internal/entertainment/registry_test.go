package entertainment

import (
	"errors"
	"sync"
	"testing"
)

func testConfigs() []Configuration {
	devices := map[string]Device{
		"d1": {ID: "d1", Name: "Play left"},
		"d2": {ID: "d2", Name: "Play right"},
	}
	return []Configuration{
		{
			ID:      "cfg-tv",
			Name:    "TV",
			Devices: devices,
			Channels: map[uint8]Channel{
				0: NewChannel(0, []Device{devices["d1"]}),
				1: NewChannel(1, []Device{devices["d2"]}),
			},
		},
		{
			ID:      "cfg-desk",
			Name:    "Desk",
			Devices: devices,
			Channels: map[uint8]Channel{
				0: NewChannel(0, []Device{devices["d1"], devices["d2"]}),
			},
		},
	}
}

func TestRegistry_SelectUnknownKeepsCurrent(t *testing.T) {
	r := NewRegistry(testConfigs())
	if err := r.Select("cfg-tv", nil); err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	err := r.Select("missing", nil)
	if !errors.Is(err, ErrUnknownConfiguration) {
		t.Fatalf("Select(missing) error = %v, want ErrUnknownConfiguration", err)
	}

	cur, ok := r.Current()
	if !ok || cur.ID != "cfg-tv" {
		t.Errorf("Current() = %q, %v; want cfg-tv", cur.ID, ok)
	}
	if n := len(r.Channels()); n != 2 {
		t.Errorf("Channels() len = %d, want 2", n)
	}
}

func TestRegistry_SelectDiscardsPreviousState(t *testing.T) {
	r := NewRegistry(testConfigs())
	_ = r.Select("cfg-tv", nil)
	if _, err := r.SetActivity(0, true); err != nil {
		t.Fatalf("SetActivity() error: %v", err)
	}
	_, _ = r.SetRegion(0, CornerTopLeft, Point{0.5, 0.5})

	_ = r.Select("cfg-desk", nil)
	_ = r.Select("cfg-tv", nil)

	ch, _ := r.Channel(0)
	if ch.Active() || ch.Region != FullScreen() {
		t.Errorf("channel 0 after reselect = %+v, want defaults", ch)
	}
}

func TestRegistry_SelectWithRestore(t *testing.T) {
	r := NewRegistry(testConfigs())
	err := r.Select("cfg-tv", func(ch Channel) Channel {
		if ch.ID == 1 {
			ch.State = Active
			ch.Gamma = 7 // clamped
			ch.Region = UVRect{Min: Point{0.8, 0.8}, Max: Point{0.2, 0.2}}
		}
		return ch
	})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}

	active := r.ActiveChannels()
	if len(active) != 1 || active[0].ID != 1 {
		t.Fatalf("ActiveChannels() = %+v, want only channel 1", active)
	}
	if active[0].Gamma != 1 {
		t.Errorf("gamma = %v, want clamped 1", active[0].Gamma)
	}
	if !active[0].Region.Valid() {
		t.Errorf("restored region not normalized: %+v", active[0].Region)
	}
}

func TestRegistry_EditsWithoutSelection(t *testing.T) {
	r := NewRegistry(testConfigs())

	if _, err := r.SetGamma(0, 0.5); !errors.Is(err, ErrNoConfiguration) {
		t.Errorf("SetGamma() error = %v, want ErrNoConfiguration", err)
	}
	if r.ActiveChannels() != nil {
		t.Error("ActiveChannels() should be nil without selection")
	}
}

func TestRegistry_UnknownChannel(t *testing.T) {
	r := NewRegistry(testConfigs())
	_ = r.Select("cfg-desk", nil)

	if _, err := r.SetActivity(9, true); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("SetActivity(9) error = %v, want ErrUnknownChannel", err)
	}
	if _, err := r.SetGamma(9, 0); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("SetGamma(9) error = %v, want ErrUnknownChannel", err)
	}
	if _, err := r.SetRegion(9, CornerMin, Point{}); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("SetRegion(9) error = %v, want ErrUnknownChannel", err)
	}
}

func TestRegistry_SetActivityReportsChange(t *testing.T) {
	r := NewRegistry(testConfigs())
	_ = r.Select("cfg-desk", nil)

	changed, _ := r.SetActivity(0, true)
	if !changed {
		t.Error("first activation should report a change")
	}
	changed, _ = r.SetActivity(0, true)
	if changed {
		t.Error("repeated activation should not report a change")
	}
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	r := NewRegistry(testConfigs())
	_ = r.Select("cfg-tv", nil)

	snap := r.Channels()
	snap[0].Gamma = -1

	ch, _ := r.Channel(0)
	if ch.Gamma == -1 {
		t.Error("mutating a snapshot leaked into the registry")
	}
}

func TestRegistry_ConcurrentReadersSeeWholeRegions(t *testing.T) {
	r := NewRegistry(testConfigs())
	_ = r.Select("cfg-tv", nil)
	_, _ = r.SetActivity(0, true)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			v := float64(i%100) / 100
			_, _ = r.SetRegion(0, CornerBottomRight, Point{v, v})
			_, _ = r.SetRegion(0, CornerTopLeft, Point{v / 2, v / 2})
		}
	}()

	for i := 0; i < 5000; i++ {
		for _, ch := range r.ActiveChannels() {
			if !ch.Region.Valid() {
				close(stop)
				wg.Wait()
				t.Fatalf("reader observed invalid region %+v", ch.Region)
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestRegistry_ConfigurationsSorted(t *testing.T) {
	r := NewRegistry(testConfigs())
	got := r.Configurations()
	if len(got) != 2 || got[0].Name != "Desk" || got[1].Name != "TV" {
		t.Errorf("Configurations() order = %v", got)
	}
}
