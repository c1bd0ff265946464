package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/config"
	"github.com/dokzlo13/ambilightd/internal/eventbus"
	"github.com/dokzlo13/ambilightd/internal/mqtt"
)

// MQTTService wraps the MQTT status publisher.
type MQTTService struct {
	cfg    *config.Config
	client *mqtt.Client
}

// NewMQTTService creates a new MQTTService.
func NewMQTTService(cfg *config.Config) *MQTTService {
	return &MQTTService{cfg: cfg}
}

// Start connects to the broker and relays bus events if enabled. A broker
// that cannot be reached is logged and does not prevent streaming.
func (s *MQTTService) Start(bus *eventbus.Bus) {
	if !s.cfg.MQTT.Enabled {
		log.Debug().Msg("MQTT publisher disabled")
		return
	}

	client, err := mqtt.Connect(s.cfg.MQTT)
	if err != nil {
		log.Error().Err(err).Str("broker", s.cfg.MQTT.Broker).Msg("MQTT publisher unavailable")
		return
	}
	s.client = client
	mqtt.NewPublisher(client, s.cfg.MQTT.TopicPrefix).Attach(bus)
}

// Close publishes the offline status and disconnects.
func (s *MQTTService) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
