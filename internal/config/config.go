// Package config handles Fete configuration loading.
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
// Then: ./config.yaml, ~/.config/fete/config.yaml, /etc/fete/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "fete", "config.yaml"))
	}

	paths = append(paths, "/etc/fete/config.yaml")
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

// Config holds all Fete configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Models    ModelsConfig    `yaml:"models"`
	Agent     AgentConfig     `yaml:"agent"`
	Finalize  FinalizeConfig  `yaml:"finalize"`
	Notify    NotifyConfig    `yaml:"notify"`
	CalDAV    CalDAVConfig    `yaml:"caldav"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	RSVP      RSVPConfig      `yaml:"rsvp"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the HTTP API listener.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// OllamaConfig defines the Ollama backend connection.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// AnthropicConfig defines Anthropic API settings. The API key may also
// be supplied via the ANTHROPIC_API_KEY environment variable, which
// takes precedence over the file value.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// ModelsConfig maps model names to providers and names the default.
type ModelsConfig struct {
	// Default is the model used when a request names none.
	Default string `yaml:"default"`
	// Synthesis is the (usually smaller) model used for reply synthesis
	// after tool execution. Empty means use Default.
	Synthesis string `yaml:"synthesis"`
	// Providers maps model name → provider name ("ollama" or "anthropic").
	Providers map[string]string `yaml:"providers"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	// Strategy selects the turn algorithm: "single_shot" or "reasoning_loop".
	Strategy string `yaml:"strategy"`
	// HistoryWindow is the number of prior turns sent to the model.
	HistoryWindow int `yaml:"history_window"`
	// MaxIterations bounds the reasoning loop.
	MaxIterations int `yaml:"max_iterations"`
	// TurnTimeoutSec bounds every model call within a turn, in seconds.
	TurnTimeoutSec int `yaml:"turn_timeout_sec"`
}

// TurnTimeout returns the configured per-call timeout as a duration.
func (a AgentConfig) TurnTimeout() time.Duration {
	return time.Duration(a.TurnTimeoutSec) * time.Second
}

// FinalizeConfig tunes draft finalization.
type FinalizeConfig struct {
	// DatePolicy controls what happens when the draft date cannot be
	// parsed: "strict" rejects the finalize, "lenient" stores the raw
	// date text on the event and proceeds.
	DatePolicy string `yaml:"date_policy"`
}

// NotifyConfig defines confirmation email settings.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
	// From is the sender address, e.g. "Fete <fete@example.org>".
	From string `yaml:"from"`
	// GuestList is a path to a vCard (.vcf) file whose entries receive
	// confirmation emails. Empty disables guest fan-out.
	GuestList string `yaml:"guest_list"`
	SMTP      SMTPConfig `yaml:"smtp"`
}

// SMTPConfig defines the outbound mail relay.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CalDAVConfig defines the calendar publishing target.
type CalDAVConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Calendar is the collection path on the server, e.g. "/calendars/fete/events/".
	Calendar string `yaml:"calendar"`
}

// MQTTConfig defines the broker used for event announcements.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Broker     string `yaml:"broker"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TopicBase  string `yaml:"topic_base"`
	DeviceName string `yaml:"device_name"`
}

// RSVPConfig defines the IMAP mailbox polled for RSVP replies.
type RSVPConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TLS             bool   `yaml:"tls"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
}

// PollInterval returns the configured poll interval as a duration.
func (r RSVPConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSec) * time.Second
}

// Load reads and parses the config file at path, applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays secrets from the environment. Environment values
// win over file values so deployments can keep keys out of config.yaml.
func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Anthropic.APIKey = v
	}
	if v := os.Getenv("FETE_SMTP_PASSWORD"); v != "" {
		c.Notify.SMTP.Password = v
	}
	if v := os.Getenv("FETE_IMAP_PASSWORD"); v != "" {
		c.RSVP.Password = v
	}
	if v := os.Getenv("FETE_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("FETE_CALDAV_PASSWORD"); v != "" {
		c.CalDAV.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Listen.Address == "" {
		c.Listen.Address = "127.0.0.1"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8723
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://localhost:11434"
	}
	if c.Models.Default == "" {
		c.Models.Default = "qwen3:4b"
	}
	if c.Agent.Strategy == "" {
		c.Agent.Strategy = "single_shot"
	}
	if c.Agent.HistoryWindow <= 0 {
		c.Agent.HistoryWindow = 8
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 3
	}
	if c.Agent.TurnTimeoutSec <= 0 {
		c.Agent.TurnTimeoutSec = 120
	}
	if c.Finalize.DatePolicy == "" {
		c.Finalize.DatePolicy = "strict"
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.MQTT.TopicBase == "" {
		c.MQTT.TopicBase = "fete"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "fete"
	}
	if c.RSVP.Port == 0 {
		c.RSVP.Port = 993
	}
	if c.RSVP.PollIntervalSec <= 0 {
		c.RSVP.PollIntervalSec = 300
	}
	if c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 587
	}
}

// Validate checks for configuration mistakes that would otherwise
// surface as confusing runtime failures.
func (c *Config) Validate() error {
	switch c.Agent.Strategy {
	case "single_shot", "reasoning_loop":
	default:
		return fmt.Errorf("agent.strategy must be single_shot or reasoning_loop, got %q", c.Agent.Strategy)
	}

	switch c.Finalize.DatePolicy {
	case "strict", "lenient":
	default:
		return fmt.Errorf("finalize.date_policy must be strict or lenient, got %q", c.Finalize.DatePolicy)
	}

	for model, provider := range c.Models.Providers {
		switch provider {
		case "ollama", "anthropic":
		default:
			return fmt.Errorf("models.providers[%s]: unknown provider %q", model, provider)
		}
	}

	if c.Notify.Enabled && c.Notify.From == "" {
		return fmt.Errorf("notify.from is required when notify is enabled")
	}
	if c.CalDAV.Enabled && c.CalDAV.URL == "" {
		return fmt.Errorf("caldav.url is required when caldav is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.RSVP.Enabled && c.RSVP.Host == "" {
		return fmt.Errorf("rsvp.host is required when rsvp is enabled")
	}

	return nil
}

// DatabasePath returns the path of the SQLite database under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "db", "fete.db")
}
