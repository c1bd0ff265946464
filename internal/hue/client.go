package hue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/ambilightd/internal/entertainment"
)

// ErrNotFound is returned when the bridge does not know a resource.
var ErrNotFound = errors.New("resource not found")

// DefaultRateLimitRPS keeps REST traffic well below the bridge's limits.
const DefaultRateLimitRPS = 10

// Client talks to a Hue bridge over the CLIP v2 API for entertainment
// topology and streaming activation.
type Client struct {
	address    string
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new Hue client
func NewClient(address, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// Create HTTP client that ignores TLS verification (Hue bridge uses self-signed cert)
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	return &Client{
		address: address,
		token:   token,
		baseURL: "https://" + address,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimitRPS), DefaultRateLimitRPS),
	}
}

// Address returns the bridge address
func (c *Client) Address() string {
	return c.address
}

// Token returns the application key
func (c *Client) Token() string {
	return c.token
}

// Close closes idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) v2URL(path string) string {
	return fmt.Sprintf("%s/clip/v2/%s", c.baseURL, path)
}

func (c *Client) v2Request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.v2URL(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("hue-application-key", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func getList[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	resp, err := c.v2Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d from %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}

	var result listResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("bridge error on %s: %s", path, result.Errors[0].Description)
	}
	return result.Data, nil
}

// Connect tests connectivity to the v2 API
func (c *Client) Connect(ctx context.Context) error {
	if _, err := getList[EntertainmentConfigurationResource](ctx, c, "resource/entertainment_configuration"); err != nil {
		return fmt.Errorf("failed to connect to Hue bridge v2 API: %w", err)
	}
	log.Info().Str("address", c.address).Msg("Connected to Hue bridge")
	return nil
}

// EntertainmentConfigurations loads every entertainment configuration with its
// channels. Channel members are resolved to device names through the device
// list; a member with no matching device keeps its service id as name.
func (c *Client) EntertainmentConfigurations(ctx context.Context) ([]entertainment.Configuration, error) {
	resources, err := getList[EntertainmentConfigurationResource](ctx, c, "resource/entertainment_configuration")
	if err != nil {
		return nil, fmt.Errorf("failed to load entertainment configurations: %w", err)
	}

	devices, err := getList[DeviceResource](ctx, c, "resource/device")
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	byService := EntertainmentDevices(devices)

	configs := make([]entertainment.Configuration, 0, len(resources))
	for _, res := range resources {
		configs = append(configs, BuildConfiguration(res, byService))
	}

	log.Debug().
		Int("configurations", len(configs)).
		Int("devices", len(byService)).
		Msg("Entertainment topology loaded")

	return configs, nil
}

// EntertainmentDevices indexes devices by their entertainment service id,
// which is what entertainment channel members refer to.
func EntertainmentDevices(devices []DeviceResource) map[string]entertainment.Device {
	out := make(map[string]entertainment.Device)
	for _, d := range devices {
		for _, svc := range d.Services {
			if svc.RType == "entertainment" {
				out[svc.RID] = entertainment.Device{ID: svc.RID, Name: d.Metadata.Name}
			}
		}
	}
	return out
}

// BuildConfiguration converts a bridge resource to the domain model.
func BuildConfiguration(res EntertainmentConfigurationResource, devices map[string]entertainment.Device) entertainment.Configuration {
	cfg := entertainment.Configuration{
		ID:       res.ID,
		Name:     res.Metadata.Name,
		Status:   res.Status,
		Devices:  make(map[string]entertainment.Device),
		Channels: make(map[uint8]entertainment.Channel, len(res.Channels)),
	}

	for _, ch := range res.Channels {
		members := make([]entertainment.Device, 0, len(ch.Members))
		for _, m := range ch.Members {
			dev, ok := devices[m.Service.RID]
			if !ok {
				dev = entertainment.Device{ID: m.Service.RID, Name: m.Service.RID}
			}
			members = append(members, dev)
			cfg.Devices[dev.ID] = dev
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
		cfg.Channels[ch.ChannelID] = entertainment.NewChannel(ch.ChannelID, members)
	}

	return cfg
}

// SetStreaming starts or stops entertainment streaming mode for a configuration.
func (c *Client) SetStreaming(ctx context.Context, configID string, active bool) error {
	action := "stop"
	if active {
		action = "start"
	}

	body, err := json.Marshal(map[string]string{"action": action})
	if err != nil {
		return err
	}

	path := "resource/entertainment_configuration/" + configID
	resp, err := c.v2Request(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to %s streaming: status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	log.Debug().
		Str("config_id", configID).
		Str("action", action).
		Msg("Entertainment streaming toggled")

	return nil
}

// StreamingStatus returns the bridge-side status of a configuration ("active" or "inactive").
func (c *Client) StreamingStatus(ctx context.Context, configID string) (string, error) {
	res, err := getList[EntertainmentConfigurationResource](ctx, c, "resource/entertainment_configuration/"+configID)
	if err != nil {
		return "", err
	}
	if len(res) == 0 {
		return "", fmt.Errorf("%w: entertainment configuration %s", ErrNotFound, configID)
	}
	return res[0].Status, nil
}

// BridgeInfo is what the v1 config endpoint reports about the bridge.
type BridgeInfo struct {
	Name       string `json:"name"`
	BridgeID   string `json:"bridgeId"`
	ModelID    string `json:"modelId"`
	APIVersion string `json:"apiVersion"`
	SwVersion  string `json:"swVersion"`
}

// Identify reads the bridge identity through the v1 API. It is used at startup
// to log which bridge is in use and to fail early on a wrong address or key.
func (c *Client) Identify(ctx context.Context) (BridgeInfo, error) {
	bridge := huego.New(c.address, c.token)
	conf, err := bridge.GetConfigContext(ctx)
	if err != nil {
		return BridgeInfo{}, fmt.Errorf("failed to read bridge config: %w", err)
	}

	info := BridgeInfo{
		Name:       conf.Name,
		BridgeID:   conf.BridgeID,
		ModelID:    conf.ModelID,
		APIVersion: conf.APIVersion,
		SwVersion:  conf.SwVersion,
	}

	log.Info().
		Str("name", info.Name).
		Str("bridge_id", info.BridgeID).
		Str("api_version", info.APIVersion).
		Msg("Hue bridge identified")

	return info, nil
}
