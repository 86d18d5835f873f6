// Package config holds the runtime settings for an export run. Values are
// resolved as flags > environment > config file > defaults; this package
// covers the last three.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	// BaseURL is the chat service root. Per-credential endpoints override it.
	BaseURL string `toml:"base_url" env:"HISTSWEEP_BASE_URL"`
	// OutputDir receives file exports and the database.
	OutputDir string `toml:"output_dir" env:"HISTSWEEP_OUTPUT_DIR"`
	// DBFile is the database filename inside OutputDir.
	DBFile string `toml:"db_file" env:"HISTSWEEP_DB_FILE"`

	// Concurrency is the fixed number of account workers.
	Concurrency int `toml:"concurrency" env:"HISTSWEEP_CONCURRENCY"`
	// QueueDepth bounds the pending-credential queue. 0 means 2*Concurrency.
	QueueDepth int `toml:"queue_depth" env:"HISTSWEEP_QUEUE_DEPTH"`

	// Per-call settings. One slow session must not stall an account's
	// other sessions beyond the retry budget.
	TimeoutMS   int `toml:"timeout_ms" env:"HISTSWEEP_TIMEOUT_MS"`
	MaxAttempts int `toml:"max_attempts" env:"HISTSWEEP_MAX_ATTEMPTS"`

	BackoffBaseMS int `toml:"backoff_base_ms" env:"HISTSWEEP_BACKOFF_BASE_MS"`
	BackoffCapMS  int `toml:"backoff_cap_ms" env:"HISTSWEEP_BACKOFF_CAP_MS"`
	JitterMS      int `toml:"jitter_ms" env:"HISTSWEEP_JITTER_MS"`

	// RateDelayMS inserts a pause between session fetches of one account.
	RateDelayMS int `toml:"rate_delay_ms" env:"HISTSWEEP_RATE_DELAY_MS"`

	Proxies             []string `toml:"proxies" env:"HISTSWEEP_PROXIES" envSeparator:","`
	ProxyThreshold      int      `toml:"proxy_threshold" env:"HISTSWEEP_PROXY_THRESHOLD"`
	QuarantineBaseMS    int      `toml:"quarantine_base_ms" env:"HISTSWEEP_QUARANTINE_BASE_MS"`
	QuarantineCapMS     int      `toml:"quarantine_cap_ms" env:"HISTSWEEP_QUARANTINE_CAP_MS"`
	ProxyFallbackDirect bool     `toml:"proxy_fallback_direct" env:"HISTSWEEP_PROXY_FALLBACK_DIRECT"`
}

// Default returns the conservative defaults applied before file and
// environment overrides.
func Default() Config {
	return Config{
		OutputDir:        "exports",
		DBFile:           "messages.db",
		Concurrency:      4,
		TimeoutMS:        15000,
		MaxAttempts:      3,
		BackoffBaseMS:    1000,
		BackoffCapMS:     30000,
		JitterMS:         500,
		ProxyThreshold:   3,
		QuarantineBaseMS: 30000,
		QuarantineCapMS:  600000,
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and environment apply; a named file that does not exist is an
// error, so typos do not silently fall back.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	if c.QueueDepth < 0 {
		return errors.New("queue_depth must not be negative")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if c.TimeoutMS < 1 {
		return errors.New("timeout_ms must be positive")
	}
	if c.BackoffBaseMS < 1 || c.BackoffCapMS < c.BackoffBaseMS {
		return errors.New("backoff_cap_ms must be >= backoff_base_ms >= 1")
	}
	return nil
}

func (c Config) Timeout() time.Duration        { return time.Duration(c.TimeoutMS) * time.Millisecond }
func (c Config) BackoffBase() time.Duration    { return time.Duration(c.BackoffBaseMS) * time.Millisecond }
func (c Config) BackoffCap() time.Duration     { return time.Duration(c.BackoffCapMS) * time.Millisecond }
func (c Config) Jitter() time.Duration         { return time.Duration(c.JitterMS) * time.Millisecond }
func (c Config) RateDelay() time.Duration      { return time.Duration(c.RateDelayMS) * time.Millisecond }
func (c Config) QuarantineBase() time.Duration { return time.Duration(c.QuarantineBaseMS) * time.Millisecond }
func (c Config) QuarantineCap() time.Duration  { return time.Duration(c.QuarantineCapMS) * time.Millisecond }

// Queue returns the effective bounded-queue capacity.
func (c Config) Queue() int {
	if c.QueueDepth > 0 {
		return c.QueueDepth
	}
	return 2 * c.Concurrency
}
