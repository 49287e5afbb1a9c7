// Package config handles attendant configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/attendant/config.yaml,
// /etc/attendant/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "attendant", "config.yaml"))
	}

	paths = append(paths, "/etc/attendant/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all attendant configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	NVR       NVRConfig       `yaml:"nvr"`
	Detector  DetectorConfig  `yaml:"detector"`
	Search    SearchConfig    `yaml:"search"`
	Presence  PresenceConfig  `yaml:"presence"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Audio     AudioConfig     `yaml:"audio"`
	DataDir   string          `yaml:"data_dir"`
	Timezone  string          `yaml:"timezone"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines dialogue backend API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	// Model used for conversational turns, greetings, and extraction.
	Model string `yaml:"model"`
	// VisionModel used for scene description. Defaults to Model.
	VisionModel string `yaml:"vision_model"`
}

// Configured reports whether an API key is set.
func (c AnthropicConfig) Configured() bool {
	return c.APIKey != ""
}

// NVRConfig defines the network video recorder connection. The NVR
// publishes person-detection events over MQTT and serves camera
// snapshots over HTTP.
type NVRConfig struct {
	// Broker is the MQTT broker URL (e.g., "mqtt://localhost:1883").
	Broker string `yaml:"broker"`
	// Username and Password are optional broker credentials.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Topic is the event topic to subscribe to (default "frigate/events").
	Topic string `yaml:"topic"`
	// SnapshotURL is the HTTP endpoint serving the latest camera frame
	// as JPEG (e.g., "http://localhost:5001/api/hall/latest.jpg").
	SnapshotURL string `yaml:"snapshot_url"`
	// Camera is the camera name used to filter events. Empty matches all.
	Camera string `yaml:"camera"`
}

// Configured reports whether a broker URL is set.
func (c NVRConfig) Configured() bool {
	return c.Broker != ""
}

// DetectorConfig defines the face identification service endpoint.
type DetectorConfig struct {
	// URL is the base URL of the face recognition service.
	URL string `yaml:"url"`
}

// Configured reports whether a detector URL is set.
func (c DetectorConfig) Configured() bool {
	return c.URL != ""
}

// SearchConfig defines the web search providers.
type SearchConfig struct {
	// Provider selects the primary backend: "searxng" or "brave".
	// Defaults to searxng when a SearXNG URL is set.
	Provider string `yaml:"provider"`
	// SearXNGURL is the root URL of a SearXNG instance.
	SearXNGURL string `yaml:"searxng_url"`
	// BraveAPIKey enables the Brave Search provider.
	BraveAPIKey string `yaml:"brave_api_key"`
	// MaxResults caps the number of results passed to the model.
	MaxResults int `yaml:"max_results"`
}

// Configured reports whether at least one search backend is set.
func (c SearchConfig) Configured() bool {
	return c.SearXNGURL != "" || c.BraveAPIKey != ""
}

// PresenceConfig defines arrival/departure hysteresis.
type PresenceConfig struct {
	// PresenceThreshold is how long a face must be continuously
	// visible before an arrival fires. Default 3s.
	PresenceThreshold time.Duration `yaml:"presence_threshold"`
	// DepartureThreshold is how long a face must be absent before it
	// is dropped. Absorbs detector flicker. Default 5s.
	DepartureThreshold time.Duration `yaml:"departure_threshold"`
	// GreetingCooldown is the minimum interval between greetings for
	// the same person. Default 5m.
	GreetingCooldown time.Duration `yaml:"greeting_cooldown"`
	// PollInterval is the idle detection poll interval. Default 2s.
	PollInterval time.Duration `yaml:"poll_interval"`
	// FastPollInterval is used while the NVR reports a person in
	// view. Default 500ms.
	FastPollInterval time.Duration `yaml:"fast_poll_interval"`
}

// ApplyDefaults fills zero fields with default values.
func (c *PresenceConfig) ApplyDefaults() {
	if c.PresenceThreshold <= 0 {
		c.PresenceThreshold = 3 * time.Second
	}
	if c.DepartureThreshold <= 0 {
		c.DepartureThreshold = 5 * time.Second
	}
	if c.GreetingCooldown <= 0 {
		c.GreetingCooldown = 5 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = 500 * time.Millisecond
	}
}

// DialogueConfig defines conversation turn behavior.
type DialogueConfig struct {
	// ListenTimeout is the per-turn listen timeout. Default 10s.
	ListenTimeout time.Duration `yaml:"listen_timeout"`
	// MaxSilentTurns is the number of consecutive empty listens
	// before the session ends. Default 2.
	MaxSilentTurns int `yaml:"max_silent_turns"`
	// SpeechGrace is the pause after speaking, letting TTS echo fade
	// before the microphone reopens. Default 2s.
	SpeechGrace time.Duration `yaml:"speech_grace"`
}

// ApplyDefaults fills zero fields with default values.
func (c *DialogueConfig) ApplyDefaults() {
	if c.ListenTimeout <= 0 {
		c.ListenTimeout = 10 * time.Second
	}
	if c.MaxSilentTurns <= 0 {
		c.MaxSilentTurns = 2
	}
	if c.SpeechGrace <= 0 {
		c.SpeechGrace = 2 * time.Second
	}
}

// AudioConfig defines the external speech endpoints.
type AudioConfig struct {
	// SpeakURL is the TTS service endpoint.
	SpeakURL string `yaml:"speak_url"`
	// ListenURL is the STT service endpoint.
	ListenURL string `yaml:"listen_url"`
	// AmbientInterval is the pause between ambient monitor listen
	// cycles. Default 1s.
	AmbientInterval time.Duration `yaml:"ambient_interval"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.Presence.ApplyDefaults()
	cfg.Dialogue.ApplyDefaults()
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Anthropic.VisionModel == "" {
		cfg.Anthropic.VisionModel = cfg.Anthropic.Model
	}
	if cfg.NVR.Topic == "" {
		cfg.NVR.Topic = "frigate/events"
	}
	if cfg.Search.Provider == "" {
		if cfg.Search.SearXNGURL != "" {
			cfg.Search.Provider = "searxng"
		} else if cfg.Search.BraveAPIKey != "" {
			cfg.Search.Provider = "brave"
		}
	}
	if cfg.Search.MaxResults <= 0 {
		cfg.Search.MaxResults = 5
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}

	return cfg, nil
}
