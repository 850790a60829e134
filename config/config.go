// Package config holds the runtime configuration for a docsync process,
// bound the way cometbft's config.Config is: struct fields with mapstructure
// tags, read through spf13/viper, validated before use.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the top-level docsync configuration.
type Config struct {
	// HeartbeatInterval is how often the heartbeat timer dispatches a
	// heartbeat message, configurable instead of hard-coded.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// EphemeralHopLimit bounds the initial TTL set on a locally originated
	// ephemeral broadcast.
	EphemeralHopLimit uint8 `mapstructure:"ephemeral_hop_limit"`

	// MaxFrameBytes rejects any decoded wire frame whose declared payload
	// length exceeds this bound.
	MaxFrameBytes uint32 `mapstructure:"max_frame_bytes"`

	// WaitReadyDefaultTimeout is loaded and defaulted with the rest of the
	// config, but no component reads it: WaitUntilReady applies only the
	// deadline carried by its ctx.
	WaitReadyDefaultTimeout time.Duration `mapstructure:"wait_ready_default_timeout"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "plain" or "json".
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns the configuration docsyncd starts with absent any
// overrides, matching the defaults documented in SPEC_FULL.md §3.1.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval:       10 * time.Second,
		EphemeralHopLimit:       8,
		MaxFrameBytes:           16 << 20, // 16MiB
		WaitReadyDefaultTimeout: 30 * time.Second,
		LogLevel:                "info",
		LogFormat:               "plain",
	}
}

// ValidateBasic performs the same sanity checks cometbft's config does on load.
func (c *Config) ValidateBasic() error {
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	if c.EphemeralHopLimit == 0 {
		return errors.New("ephemeral_hop_limit must be at least 1")
	}
	if c.MaxFrameBytes == 0 {
		return errors.New("max_frame_bytes must be positive")
	}
	switch c.LogFormat {
	case "plain", "json":
	default:
		return errors.Errorf("log_format must be 'plain' or 'json', got %q", c.LogFormat)
	}
	return nil
}

// BindFlags registers the config's fields as viper-bound flags, following
// the same defaults-then-override pattern as cometbft's cmd/cometbft root
// command (flags > env > file > defaults).
func BindFlags(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("ephemeral_hop_limit", d.EphemeralHopLimit)
	v.SetDefault("max_frame_bytes", d.MaxFrameBytes)
	v.SetDefault("wait_ready_default_timeout", d.WaitReadyDefaultTimeout)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// Load decodes the bound viper settings into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}
