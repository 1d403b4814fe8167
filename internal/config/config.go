// Package config loads bluebridge's YAML configuration with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bluebridge/internal/discovery"
	"bluebridge/internal/relay"
)

// Config is the root application configuration.
type Config struct {
	Log       LogConfig        `mapstructure:"log"`
	Discovery discovery.Config `mapstructure:"discovery"`
	Session   SessionConfig    `mapstructure:"session"`
	Relay     RelayConfig      `mapstructure:"relay"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SessionConfig tunes outbound connections.
type SessionConfig struct {
	// ConnectTimeout bounds Open; zero waits for the radio's own timeout.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RelayConfig struct {
	// TCPListen is the relay's TCP address; empty disables TCP clients.
	TCPListen string `mapstructure:"tcp_listen"`
	QueueSize int    `mapstructure:"queue_size"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/bluebridge.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Discovery: discovery.DefaultConfig(),
		Session:   SessionConfig{ConnectTimeout: 30 * time.Second},
		Relay: RelayConfig{
			TCPListen: relay.DefaultTCPListen,
			QueueSize: relay.DefaultQueue,
		},
	}
}

// Load reads configuration from path if non-empty, otherwise from
// bluebridge.yaml in ., ./configs or $HOME/.bluebridge. A missing file is
// not an error. Environment variables use the prefix BLUEBRIDGE with `.`
// and `-` replaced by `_`, e.g. BLUEBRIDGE_DISCOVERY_BACKEND=bluez.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BLUEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("discovery.backend", cfg.Discovery.Backend)
	v.SetDefault("discovery.device", cfg.Discovery.Device)
	v.SetDefault("discovery.inquiry_length", cfg.Discovery.InquiryLength)
	v.SetDefault("discovery.max_responses", cfg.Discovery.MaxResponses)
	v.SetDefault("discovery.flush_cache", cfg.Discovery.FlushCache)
	v.SetDefault("session.connect_timeout", cfg.Session.ConnectTimeout)
	v.SetDefault("relay.tcp_listen", cfg.Relay.TCPListen)
	v.SetDefault("relay.queue_size", cfg.Relay.QueueSize)

	if path == "" {
		path = os.Getenv("BLUEBRIDGE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("bluebridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".bluebridge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	c.Discovery.Backend = strings.ToLower(strings.TrimSpace(c.Discovery.Backend))
	switch c.Discovery.Backend {
	case "":
		c.Discovery.Backend = discovery.BackendHCI
	case discovery.BackendHCI, discovery.BackendBlueZ:
	default:
		return fmt.Errorf("invalid discovery.backend: %q", c.Discovery.Backend)
	}
	if c.Discovery.InquiryLength == 0 || c.Discovery.InquiryLength > 0x30 {
		return fmt.Errorf("invalid discovery.inquiry_length: %d (1..48)", c.Discovery.InquiryLength)
	}
	if c.Discovery.MaxResponses < 1 {
		return fmt.Errorf("invalid discovery.max_responses: %d", c.Discovery.MaxResponses)
	}

	if c.Session.ConnectTimeout < 0 {
		return fmt.Errorf("invalid session.connect_timeout: %s", c.Session.ConnectTimeout)
	}
	if c.Relay.QueueSize <= 0 {
		c.Relay.QueueSize = relay.DefaultQueue
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
