package config

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = "boardsync.yml"

// Transport and persistence kinds.
const (
	KindRedis     = "redis"
	KindWebSocket = "websocket"
	KindHTTP      = "http"
)

// Environment overrides, applied after the file is decoded.
const (
	EnvRedisURL       = "BOARDSYNC_REDIS_URL"
	EnvTransportURL   = "BOARDSYNC_TRANSPORT_URL"
	EnvPersistenceURL = "BOARDSYNC_PERSISTENCE_URL"
	EnvDisplayName    = "BOARDSYNC_DISPLAY_NAME"
)

// Duration is a time.Duration written as a Go duration string ("3s", "500ms").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"3s\"", node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// BoardsyncConfig represents the top-level boardsync.yml configuration
type BoardsyncConfig struct {
	Version     string             `yaml:"version"`
	Namespace   string             `yaml:"namespace,omitempty"`
	Participant *ParticipantConfig `yaml:"participant,omitempty"`
	Redis       *RedisConfig       `yaml:"redis,omitempty"`
	Transport   *TransportConfig   `yaml:"transport,omitempty"`
	Persistence *PersistenceConfig `yaml:"persistence,omitempty"`
	Save        *SaveConfig        `yaml:"save,omitempty"`
	Status      *StatusConfig      `yaml:"status,omitempty"`
}

// ParticipantConfig identifies the local participant in board rooms
type ParticipantConfig struct {
	DisplayName string `yaml:"display_name,omitempty"`
	ColorToken  string `yaml:"color_token,omitempty"`
}

// RedisConfig locates the Redis server used for documents, rooms and presence
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TransportConfig selects the real-time room relay
type TransportConfig struct {
	Kind          string            `yaml:"kind"`          // "redis" or "websocket"
	URL           string            `yaml:"url,omitempty"` // Required for websocket
	Headers       map[string]string `yaml:"headers,omitempty"`
	PingInterval  Duration          `yaml:"ping_interval,omitempty"`
	MaxAttempts   int               `yaml:"max_attempts,omitempty"`
	RetryInterval Duration          `yaml:"retry_interval,omitempty"`
}

// PersistenceConfig selects where board documents are stored
type PersistenceConfig struct {
	Kind    string            `yaml:"kind"`          // "redis" or "http"
	URL     string            `yaml:"url,omitempty"` // Required for http
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
}

// SaveConfig tunes the save policy
type SaveConfig struct {
	Debounce    Duration `yaml:"debounce,omitempty"`
	MinInterval Duration `yaml:"min_interval,omitempty"`
}

// StatusConfig tunes the status indicator
type StatusConfig struct {
	DisplayDuration Duration `yaml:"display_duration,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *BoardsyncConfig {
	c := &BoardsyncConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Validate applies defaults and performs strict validation on the configuration
func (c *BoardsyncConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Namespace == "" {
		c.Namespace = "default"
	}

	if c.Participant == nil {
		c.Participant = &ParticipantConfig{}
	}

	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return fmt.Errorf("redis.url: %w", err)
	}

	if c.Transport == nil {
		c.Transport = &TransportConfig{}
	}
	if err := c.Transport.validate(); err != nil {
		return err
	}

	if c.Persistence == nil {
		c.Persistence = &PersistenceConfig{}
	}
	if err := c.Persistence.validate(); err != nil {
		return err
	}

	if c.Save == nil {
		c.Save = &SaveConfig{}
	}
	if c.Save.Debounce == 0 {
		c.Save.Debounce = Duration(3 * time.Second)
	}
	if c.Save.MinInterval == 0 {
		c.Save.MinInterval = Duration(5 * time.Second)
	}
	if c.Save.Debounce < 0 || c.Save.MinInterval < 0 {
		return fmt.Errorf("save.debounce and save.min_interval must be positive")
	}

	if c.Status == nil {
		c.Status = &StatusConfig{}
	}
	if c.Status.DisplayDuration == 0 {
		c.Status.DisplayDuration = Duration(2 * time.Second)
	}
	if c.Status.DisplayDuration < 0 {
		return fmt.Errorf("status.display_duration must be positive")
	}

	return nil
}

func (t *TransportConfig) validate() error {
	if t.Kind == "" {
		t.Kind = KindRedis
	}
	switch t.Kind {
	case KindRedis:
	case KindWebSocket:
		if t.URL == "" {
			return fmt.Errorf("transport.url is required when transport.kind is '%s'", KindWebSocket)
		}
	default:
		return fmt.Errorf("invalid transport.kind: %s (must be '%s' or '%s')", t.Kind, KindRedis, KindWebSocket)
	}

	if t.MaxAttempts == 0 {
		t.MaxAttempts = 5
	}
	if t.MaxAttempts < 1 {
		return fmt.Errorf("transport.max_attempts must be >= 1, got %d", t.MaxAttempts)
	}
	if t.RetryInterval == 0 {
		t.RetryInterval = Duration(time.Second)
	}
	if t.PingInterval == 0 {
		t.PingInterval = Duration(30 * time.Second)
	}
	if t.RetryInterval < 0 || t.PingInterval < 0 {
		return fmt.Errorf("transport intervals must be positive")
	}
	return nil
}

func (p *PersistenceConfig) validate() error {
	if p.Kind == "" {
		p.Kind = KindRedis
	}
	switch p.Kind {
	case KindRedis:
	case KindHTTP:
		if p.URL == "" {
			return fmt.Errorf("persistence.url is required when persistence.kind is '%s'", KindHTTP)
		}
	default:
		return fmt.Errorf("invalid persistence.kind: %s (must be '%s' or '%s')", p.Kind, KindRedis, KindHTTP)
	}

	if p.Timeout == 0 {
		p.Timeout = Duration(30 * time.Second)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("persistence.timeout must be positive")
	}
	return nil
}

// ApplyEnv overrides config values from the environment. lookup is usually os.LookupEnv.
func (c *BoardsyncConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.URL = v
	}
	if v, ok := lookup(EnvTransportURL); ok && v != "" {
		if c.Transport == nil {
			c.Transport = &TransportConfig{}
		}
		c.Transport.URL = v
		c.Transport.Kind = KindWebSocket
	}
	if v, ok := lookup(EnvPersistenceURL); ok && v != "" {
		if c.Persistence == nil {
			c.Persistence = &PersistenceConfig{}
		}
		c.Persistence.URL = v
		c.Persistence.Kind = KindHTTP
	}
	if v, ok := lookup(EnvDisplayName); ok && v != "" {
		if c.Participant == nil {
			c.Participant = &ParticipantConfig{}
		}
		c.Participant.DisplayName = v
	}
}

// RedisOptions parses the configured Redis URL.
func (c *BoardsyncConfig) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return opts, nil
}

// Load reads boardsync.yml from the specified path, applies environment
// overrides and validates the result. A missing file at DefaultPath is not an
// error: the defaults are used instead.
func Load(path string) (*BoardsyncConfig, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	config := BoardsyncConfig{Version: "1.0"}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
