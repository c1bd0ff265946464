package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
)

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []message
	attempts int
	err      error
}

func (f *fakeBroker) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{topic: topic, retained: retained, payload: payload})
	return nil
}

func (f *fakeBroker) wait(t *testing.T, n int) []message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		got := append([]message(nil), f.messages...)
		f.mu.Unlock()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d messages, want %d", len(got), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "home/ambilight"}

	tests := []struct {
		got, want string
	}{
		{topics.Status(), "home/ambilight/status"},
		{topics.StreamingState(), "home/ambilight/streaming/state"},
		{topics.StreamingStats(), "home/ambilight/streaming/stats"},
		{topics.Channel(7), "home/ambilight/channels/7"},
		{topics.BridgeEntertainment("abc"), "home/ambilight/bridge/entertainment/abc"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPublisher_RelaysBusEvents(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 16)
	defer bus.Close(context.Background())

	broker := &fakeBroker{}
	NewPublisher(broker, "ambi").Attach(bus)

	bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeStreamingState,
		Data: map[string]interface{}{"state": "streaming", "config_id": "cfg"},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeStreamingStats,
		Data: map[string]interface{}{"ticks": 10},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeChannel,
		Data: map[string]interface{}{"channel": map[string]any{"id": 3, "active": true}},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeBridgeEntertainment,
		Data: map[string]interface{}{"resource_id": "cfg", "status": "active"},
	})
	bus.Publish(eventbus.Event{
		Type: eventbus.EventTypePreview,
		Data: map[string]interface{}{"colors": []eventbus.ChannelColor{{Channel: 3, Color: "#ffffff"}}},
	})

	got := broker.wait(t, 4)
	want := map[string]bool{
		"ambi/streaming/state":          true,
		"ambi/streaming/stats":          false,
		"ambi/channels/3":               true,
		"ambi/bridge/entertainment/cfg": true,
	}
	for _, m := range got {
		retained, ok := want[m.topic]
		if !ok {
			t.Errorf("unexpected topic %q", m.topic)
			continue
		}
		if m.retained != retained {
			t.Errorf("%s retained = %v, want %v", m.topic, m.retained, retained)
		}
		if !json.Valid(m.payload) {
			t.Errorf("%s payload is not JSON: %q", m.topic, m.payload)
		}
		delete(want, m.topic)
	}
	if len(want) != 0 {
		t.Errorf("missing topics: %v", want)
	}
}

func TestPublisher_BrokerErrorIsNotFatal(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 16)
	defer bus.Close(context.Background())

	broker := &fakeBroker{err: errors.New("not connected")}
	NewPublisher(broker, "ambi").Attach(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStreamingState, Data: map[string]interface{}{"state": "idle"}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		broker.mu.Lock()
		attempts := broker.attempts
		broker.mu.Unlock()
		if attempts > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first event never reached the broker")
		}
		time.Sleep(5 * time.Millisecond)
	}

	broker.mu.Lock()
	broker.err = nil
	broker.mu.Unlock()
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStreamingState, Data: map[string]interface{}{"state": "activating"}})

	got := broker.wait(t, 1)
	var body map[string]any
	if err := json.Unmarshal(got[0].payload, &body); err != nil || body["state"] != "activating" {
		t.Errorf("payload = %s, %v", got[0].payload, err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(config.MQTTConfig{
		Broker:      "tcp://broker.local:1883",
		ClientID:    "ambi-test",
		Username:    "user",
		Password:    "secret",
		TopicPrefix: "ambi",
	})

	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker.local:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if opts.ClientID != "ambi-test" || opts.Username != "user" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if !opts.WillEnabled || opts.WillTopic != "ambi/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained %v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !opts.AutoReconnect {
		t.Error("auto reconnect disabled")
	}
}
