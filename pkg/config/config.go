// Package config holds the wabridge runtime configuration. Configuration is
// loaded from an optional YAML file layered over defaults; command line flags
// applied by the caller take precedence over both.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all wabridge settings.
type Config struct {
	// ListenAddr is the address the HTTP/WebSocket server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// DatabasePath is the SQLite database location.
	DatabasePath string `yaml:"database_path"`

	// SessionDir is the persistent browser profile directory. Reusing it
	// across runs lets the driven session keep its authentication.
	SessionDir string `yaml:"session_dir"`

	// Headless controls whether the driven browser runs without a window.
	Headless bool `yaml:"headless"`

	// DemoSeedDelay is how long a fresh demo session waits before
	// synthesizing its single seed message.
	DemoSeedDelay time.Duration `yaml:"demo_seed_delay"`

	// DemoSendDelay is the artificial latency of a simulated send.
	DemoSendDelay time.Duration `yaml:"demo_send_delay"`

	// AutoReplyDelay is the delay before the REST demo auto-reply is recorded.
	AutoReplyDelay time.Duration `yaml:"auto_reply_delay"`
}

// UnmarshalYAML decodes the config, accepting Go duration strings ("8s",
// "1500ms") for the delay fields.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		ListenAddr     *string `yaml:"listen_addr"`
		DatabasePath   *string `yaml:"database_path"`
		SessionDir     *string `yaml:"session_dir"`
		Headless       *bool   `yaml:"headless"`
		DemoSeedDelay  *string `yaml:"demo_seed_delay"`
		DemoSendDelay  *string `yaml:"demo_send_delay"`
		AutoReplyDelay *string `yaml:"auto_reply_delay"`
	}

	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.ListenAddr != nil {
		c.ListenAddr = *raw.ListenAddr
	}
	if raw.DatabasePath != nil {
		c.DatabasePath = *raw.DatabasePath
	}
	if raw.SessionDir != nil {
		c.SessionDir = *raw.SessionDir
	}
	if raw.Headless != nil {
		c.Headless = *raw.Headless
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{stringOr(raw.DemoSeedDelay), &c.DemoSeedDelay},
		{stringOr(raw.DemoSendDelay), &c.DemoSendDelay},
		{stringOr(raw.AutoReplyDelay), &c.AutoReplyDelay},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", d.raw, err)
		}
		*d.dst = parsed
	}

	return nil
}

func stringOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Default returns the configuration used when no file or flags override it.
func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		DatabasePath:   "wabridge.db",
		SessionDir:     "./session_data",
		Headless:       false,
		DemoSeedDelay:  8 * time.Second,
		DemoSendDelay:  1500 * time.Millisecond,
		AutoReplyDelay: 2 * time.Second,
	}
}

// Load reads a YAML config file and layers it over the defaults.
// A missing file is not an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}
	if c.DemoSeedDelay < 0 || c.DemoSendDelay < 0 || c.AutoReplyDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}
	return nil
}
