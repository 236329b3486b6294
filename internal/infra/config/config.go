// Package config loads and validates the YAML application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location when set.
const EnvConfigPath = "PARLEY_CONFIG"

// Config is the top-level application configuration.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Resolver ResolverConfig `yaml:"resolver"`
	Approval ApprovalConfig `yaml:"approval"`
	UI       UIConfig       `yaml:"ui"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// GatewayConfig holds the real-time transport settings.
type GatewayConfig struct {
	URL            string        `yaml:"url"`
	ConversationID string        `yaml:"conversation_id"` // default conversation opened at start
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
}

// ResolverConfig holds the resource resolution settings.
type ResolverConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	IssuerContext  string        `yaml:"issuer_context"`
	TTLSeconds     int           `yaml:"ttl_seconds"`
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	Burst          int           `yaml:"burst"`
}

// ApprovalConfig lists tools decided automatically instead of prompting.
// A tool on the deny list is refused even when it also appears on allow.
type ApprovalConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// UIConfig holds terminal UI settings.
type UIConfig struct {
	// Markdown enables glamour rendering of agent text.
	Markdown bool `yaml:"markdown"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
	Output string `yaml:"output"` // stdout|stderr|<path>
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout|noop
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Gateway: GatewayConfig{
			URL:            "ws://localhost:8787/ws",
			ConversationID: "default",
			BackoffBase:    time.Second,
			BackoffCap:     30 * time.Second,
		},
		Resolver: ResolverConfig{
			Endpoint:       "http://localhost:8787/resolve",
			TTLSeconds:     3600,
			Timeout:        15 * time.Second,
			RequestsPerSec: 10,
			Burst:          5,
		},
		UI: UIConfig{Markdown: true},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{Exporter: "noop"},
	}
}

// Load reads configuration from path, falling back to EnvConfigPath when
// path is empty and to defaults when neither names a file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
