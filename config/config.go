// Package config loads the pegrollup node configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	log "github.com/colorfulnotion/pegrollup/log"
	"gopkg.in/yaml.v2"
)

// Config is the node configuration. Zero fields in a loaded file keep the
// defaults.
type Config struct {
	DataDir              string `yaml:"data_dir"`
	LogLevel             string `yaml:"log_level"`
	EnabledLogModules    string `yaml:"enabled_log_modules"`
	BlockVersion         uint16 `yaml:"block_version"`
	MaxSoftTransactions  int    `yaml:"max_soft_transactions"`
	MaxBlockTransactions int    `yaml:"max_block_transactions"`
	ConfirmationWindow   uint64 `yaml:"confirmation_window"`
	AuditWorkers         int    `yaml:"audit_workers"`
	OTLPEndpoint         string `yaml:"otlp_endpoint"`
}

var (
	ErrNegativeLimit = errors.New("config: limits must not be negative")
	ErrBlockLimit    = errors.New("config: max_block_transactions exceeds max_soft_transactions")
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DataDir:              "",
		LogLevel:             "info",
		BlockVersion:         0,
		MaxSoftTransactions:  4096,
		MaxBlockTransactions: 1024,
		ConfirmationWindow:   10,
		AuditWorkers:         4,
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and the log level.
func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.MaxSoftTransactions < 0 || c.MaxBlockTransactions < 0 || c.AuditWorkers < 0 {
		return ErrNegativeLimit
	}
	if c.MaxSoftTransactions > 0 && c.MaxBlockTransactions > c.MaxSoftTransactions {
		return fmt.Errorf("%w: %d > %d", ErrBlockLimit, c.MaxBlockTransactions, c.MaxSoftTransactions)
	}
	return nil
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
