package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Hue             HueConfig       `yaml:"hue"`
	Capture         CaptureConfig   `yaml:"capture"`
	Tuning          TuningConfig    `yaml:"tuning"`
	Streaming       StreamingConfig `yaml:"streaming"`
	Database        DatabaseConfig  `yaml:"database"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	Log             LogConfig       `yaml:"log"`
	API             APIConfig       `yaml:"api"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	WatchConfig     bool            `yaml:"watch_config"`     // Re-apply the tuning section when the file changes
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HueConfig contains Hue bridge connection and streaming credentials
type HueConfig struct {
	Bridge         string `yaml:"bridge"`
	ApplicationKey string `yaml:"application_key"` // hue-application-key, also the DTLS PSK identity
	ClientKey      string `yaml:"client_key"`      // hex PSK issued together with the application key

	// EntertainmentConfiguration is selected at startup when no profile exists
	EntertainmentConfiguration string `yaml:"entertainment_configuration"`

	Timeout          Duration `yaml:"timeout"`           // HTTP timeout for Hue API requests
	HandshakeTimeout Duration `yaml:"handshake_timeout"` // DTLS handshake bound
	KeepAlive        Duration `yaml:"keep_alive"`        // Resend interval while no frame is sent

	// Event stream reconnect settings
	EventStream     bool     `yaml:"event_stream"`      // Follow bridge-side streaming status (default: true)
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)
}

// CaptureConfig selects and configures the frame source
type CaptureConfig struct {
	Backend        string        `yaml:"backend"`          // screen or pattern
	Display        int           `yaml:"display"`          // screen backend display index
	MaxRefreshRate int           `yaml:"max_refresh_rate"` // Refresh rate ceiling (default: 60)
	Pattern        PatternConfig `yaml:"pattern"`
}

// PatternConfig configures the synthetic capture backend
type PatternConfig struct {
	Mode   string   `yaml:"mode"` // solid, gradient or cycle
	Color  string   `yaml:"color"`
	Width  int      `yaml:"width"`
	Height int      `yaml:"height"`
	Period Duration `yaml:"period"`
}

// TuningConfig holds the streaming parameters that can change at runtime
type TuningConfig struct {
	RefreshRate    int    `yaml:"refresh_rate"`
	SubsampleWidth int    `yaml:"subsample_width"`
	Interpolation  string `yaml:"interpolation"`
}

// StreamingConfig contains streaming loop settings
type StreamingConfig struct {
	Autostart   bool    `yaml:"autostart"`    // Start streaming once the service is up
	PreviewRate float64 `yaml:"preview_rate"` // Max preview events per second (default: 10)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains session ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"` // Structured output instead of the console writer
}

// APIConfig contains control-plane HTTP server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns the listen address
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MQTTConfig contains status publisher settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	cfg := Config{
		Hue: HueConfig{EventStream: true},
	}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./ambilightd.sqlite"
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(10 * time.Second)
	}
	if cfg.Hue.HandshakeTimeout == 0 {
		cfg.Hue.HandshakeTimeout = Duration(5 * time.Second)
	}
	if cfg.Hue.KeepAlive == 0 {
		cfg.Hue.KeepAlive = Duration(1 * time.Second)
	}
	if cfg.Hue.MinRetryBackoff == 0 {
		cfg.Hue.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Hue.MaxRetryBackoff == 0 {
		cfg.Hue.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Hue.RetryMultiplier == 0 {
		cfg.Hue.RetryMultiplier = 2.0
	}

	// Capture defaults
	if cfg.Capture.Backend == "" {
		cfg.Capture.Backend = "screen"
	}
	if cfg.Capture.MaxRefreshRate == 0 {
		cfg.Capture.MaxRefreshRate = 60
	}

	// Tuning defaults
	if cfg.Tuning.RefreshRate == 0 {
		cfg.Tuning.RefreshRate = 25
	}
	if cfg.Tuning.SubsampleWidth == 0 {
		cfg.Tuning.SubsampleWidth = 48
	}
	if cfg.Tuning.Interpolation == "" {
		cfg.Tuning.Interpolation = "exponential"
	}

	if cfg.Streaming.PreviewRate == 0 {
		cfg.Streaming.PreviewRate = 10
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8215
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "ambilightd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "ambilightd"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate reports missing or inconsistent settings
func (c *Config) Validate() error {
	var errs []error
	if c.Hue.Bridge == "" {
		errs = append(errs, errors.New("hue.bridge is required"))
	}
	if c.Hue.ApplicationKey == "" {
		errs = append(errs, errors.New("hue.application_key is required"))
	}
	if c.Hue.ClientKey == "" {
		errs = append(errs, errors.New("hue.client_key is required"))
	}
	switch c.Capture.Backend {
	case "screen", "pattern":
	default:
		errs = append(errs, fmt.Errorf("capture.backend %q is not one of screen, pattern", c.Capture.Backend))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d is out of range", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
