package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// WriteFile persists cfg as a TOML document, the same mechanism cometbft
// uses to write config.toml on `init`.
func WriteFile(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating config file %s", path)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return errors.Wrap(err, "encoding config as toml")
	}
	return nil
}

// ReadFile loads a Config from a TOML document written by WriteFile.
func ReadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding config file %s", path)
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}
