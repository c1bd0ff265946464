package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/eventbus"
)

// Topics builds the topic names under a prefix.
type Topics struct {
	Prefix string
}

// Status is the retained online/offline topic.
func (t Topics) Status() string { return t.Prefix + "/status" }

// StreamingState is the retained session state topic.
func (t Topics) StreamingState() string { return t.Prefix + "/streaming/state" }

// StreamingStats is the tick counter topic.
func (t Topics) StreamingStats() string { return t.Prefix + "/streaming/stats" }

// Channel is the retained topic of one channel's settings.
func (t Topics) Channel(id uint8) string { return fmt.Sprintf("%s/channels/%d", t.Prefix, id) }

// BridgeEntertainment is the retained topic of one bridge-side configuration status.
func (t Topics) BridgeEntertainment(id string) string {
	return t.Prefix + "/bridge/entertainment/" + id
}

// Broker publishes raw messages.
type Broker interface {
	Publish(topic string, retained bool, payload []byte) error
}

// Publisher relays bus events to MQTT topics.
type Publisher struct {
	broker Broker
	topics Topics
}

// NewPublisher creates a publisher writing under prefix.
func NewPublisher(broker Broker, prefix string) *Publisher {
	return &Publisher{broker: broker, topics: Topics{Prefix: prefix}}
}

// Attach subscribes the publisher to the bus. Preview colors are not relayed.
func (p *Publisher) Attach(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeStreamingState, func(e eventbus.Event) {
		p.publish(p.topics.StreamingState(), true, e.Data)
	})
	bus.Subscribe(eventbus.EventTypeStreamingStats, func(e eventbus.Event) {
		p.publish(p.topics.StreamingStats(), false, e.Data)
	})
	bus.Subscribe(eventbus.EventTypeChannel, func(e eventbus.Event) {
		ch, err := json.Marshal(e.Data["channel"])
		if err != nil {
			return
		}
		var ref struct {
			ID uint8 `json:"id"`
		}
		if err := json.Unmarshal(ch, &ref); err != nil {
			return
		}
		p.publishRaw(p.topics.Channel(ref.ID), true, ch)
	})
	bus.Subscribe(eventbus.EventTypeBridgeEntertainment, func(e eventbus.Event) {
		id, _ := e.Data["resource_id"].(string)
		if id == "" {
			return
		}
		p.publish(p.topics.BridgeEntertainment(id), true, e.Data)
	})
}

func (p *Publisher) publish(topic string, retained bool, data map[string]interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to marshal MQTT payload")
		return
	}
	p.publishRaw(topic, retained, payload)
}

func (p *Publisher) publishRaw(topic string, retained bool, payload []byte) {
	if err := p.broker.Publish(topic, retained, payload); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		return
	}
	log.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("MQTT published")
}
