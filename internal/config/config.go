package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level sequencer configuration.
type Config struct {
	Sequencer SequencerConfig `yaml:"sequencer"`
	Bundles   BundleConfig    `yaml:"bundles"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SequencerConfig holds the core sequencer settings.
type SequencerConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	WSAddr      string        `yaml:"ws_addr"`
	BlockTime   time.Duration `yaml:"block_time"`
	MaxBlockGas uint64        `yaml:"max_block_gas"`
	ChainID     uint64        `yaml:"chain_id"`
	MempoolSize int           `yaml:"mempool_size"`
}

// BundleConfig holds the bundle pool and forwarding settings.
type BundleConfig struct {
	MaxPoolSizeBytes     uint64        `yaml:"max_pool_size_bytes"`
	MaxMinTimestampAhead time.Duration `yaml:"max_min_timestamp_ahead"`
	EventBuffer          int           `yaml:"event_buffer"`
	ForwardRecipients    []string      `yaml:"forward_recipients"`  // empty disables forwarding
	ForwardMaxRetries    uint64        `yaml:"forward_max_retries"` // 0 = unbounded
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Sequencer: SequencerConfig{
			ListenAddr:  "0.0.0.0:8545",
			WSAddr:      "0.0.0.0:8546",
			BlockTime:   500 * time.Millisecond,
			MaxBlockGas: 30_000_000,
			ChainID:     59140,
			MempoolSize: 4096,
		},
		Bundles: BundleConfig{
			MaxPoolSizeBytes:     16 * 1024 * 1024,
			MaxMinTimestampAhead: 5 * time.Minute,
			EventBuffer:          256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "0.0.0.0:6060",
		},
	}
}
