package hue

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambilightd/internal/eventbus"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// EventStreamConfig contains configuration for event stream reconnection.
type EventStreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// DefaultEventStreamConfig reconnects forever with backoff between 1s and 1m.
func DefaultEventStreamConfig() EventStreamConfig {
	return EventStreamConfig{
		MinBackoff: time.Second,
		MaxBackoff: time.Minute,
		Multiplier: 2,
	}
}

// EventStream follows the bridge event stream (SSE) and republishes
// entertainment_configuration changes, which is how the bridge reports that
// streaming started or stopped, including when another application takes over.
type EventStream struct {
	client     *Client
	httpClient *http.Client
	config     EventStreamConfig
}

// NewEventStream creates an event stream listener for client's bridge.
func NewEventStream(client *Client, config EventStreamConfig) *EventStream {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &EventStream{
		client: client,
		httpClient: &http.Client{
			Transport: transport,
			// No timeout for SSE - it's a long-lived connection
		},
		config: config,
	}
}

// Run listens with automatic reconnection until ctx is cancelled.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (e *EventStream) Run(ctx context.Context, bus *eventbus.Bus) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := e.connect(ctx, bus)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			retryCount++

			if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
				log.Error().
					Int("max_reconnects", e.config.MaxReconnects).
					Msg("Event stream: max reconnects exceeded, terminating")
				return ErrMaxReconnectsExceeded
			}

			log.Warn().
				Err(err).
				Dur("backoff", currentBackoff).
				Int("retry", retryCount).
				Msg("Event stream disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(currentBackoff):
			}

			nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
			if nextBackoff > e.config.MaxBackoff {
				nextBackoff = e.config.MaxBackoff
			}
			currentBackoff = nextBackoff

			continue
		}

		retryCount = 0
		currentBackoff = e.config.MinBackoff
	}
}

func (e *EventStream) connect(ctx context.Context, bus *eventbus.Bus) error {
	url := e.client.baseURL + "/eventstream/clip/v2"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	req.Header.Set("hue-application-key", e.client.Token())
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	log.Info().Msg("Connected to Hue event stream")

	scanner := bufio.NewScanner(resp.Body)
	var dataBuffer strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		if line == ": hi" {
			log.Debug().Msg("Received event stream greeting")
			continue
		}

		// Empty line marks end of event
		if line == "" {
			if dataBuffer.Len() > 0 {
				processEvent(dataBuffer.String(), bus)
				dataBuffer.Reset()
			}
			continue
		}

		if strings.HasPrefix(line, "data: ") {
			dataBuffer.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	return errors.New("event stream closed by bridge")
}

type streamEvent struct {
	Type string `json:"type"`
	Data []struct {
		ID             string       `json:"id"`
		Type           string       `json:"type"`
		Status         string       `json:"status"`
		ActiveStreamer *ResourceRef `json:"active_streamer"`
	} `json:"data"`
}

func processEvent(data string, bus *eventbus.Bus) {
	var events []streamEvent
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		log.Warn().Err(err).Str("data", data).Msg("Failed to parse event")
		return
	}

	for _, ev := range events {
		for _, item := range ev.Data {
			if item.Type != "entertainment_configuration" || item.Status == "" {
				log.Trace().
					Str("event_type", ev.Type).
					Str("item_type", item.Type).
					Str("id", item.ID).
					Msg("Unhandled event type")
				continue
			}

			owner := ""
			if item.ActiveStreamer != nil {
				owner = item.ActiveStreamer.RID
			}

			log.Debug().
				Str("id", item.ID).
				Str("status", item.Status).
				Str("owner", owner).
				Msg("Entertainment configuration event")

			bus.Publish(eventbus.Event{
				Type: eventbus.EventTypeBridgeEntertainment,
				Data: map[string]interface{}{
					"resource_id": item.ID,
					"status":      item.Status,
					"owner":       owner,
				},
			})
		}
	}
}
