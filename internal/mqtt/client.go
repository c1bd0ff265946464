// Package mqtt publishes streaming state and statistics to an MQTT broker.
package mqtt

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	keepAlive         = 60 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrPublishTimeout   = errors.New("mqtt publish timed out")
)

// Client is a connected paho client with an online/offline status topic.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
}

// Connect dials the broker. The status topic is set to "offline" by the
// broker's last will and to "online" on every (re)connect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
		if err := c.Publish(Topics{Prefix: cfg.TopicPrefix}.Status(), true, []byte(statusPayload("online", ""))); err != nil {
			log.Warn().Err(err).Msg("Failed to publish MQTT online status")
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetWill(Topics{Prefix: cfg.TopicPrefix}.Status(), statusPayload("offline", "unexpected_disconnect"), 1, true)
	return opts
}

func statusPayload(status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"timestamp":%q}`, status, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"reason":%q,"timestamp":%q}`, status, reason, time.Now().UTC().Format(time.RFC3339))
}

// Publish sends payload to topic with the configured QoS.
func (c *Client) Publish(topic string, retained bool, payload []byte) error {
	token := c.client.Publish(topic, c.cfg.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	return token.Error()
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client.IsConnected() {
		if err := c.Publish(Topics{Prefix: c.cfg.TopicPrefix}.Status(), true, []byte(statusPayload("offline", "shutdown"))); err != nil {
			log.Debug().Err(err).Msg("Failed to publish MQTT offline status")
		}
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}
