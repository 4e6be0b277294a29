// Package config loads newsagg's settings from a YAML file and NEWSAGG_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pevans/newsagg/dedup"
	"github.com/pevans/newsagg/driver"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/service"
	"github.com/pevans/newsagg/source"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Defaults.
const (
	DefaultStorePath         = "newsagg.db"
	DefaultSchedule          = "0 * * * *"
	DefaultListen            = "localhost:8080"
	DefaultRequestsPerSecond = 2
)

// StoreConfig locates the article database.
type StoreConfig struct {
	Path string `yaml:"path"`
	// Disabled runs without persistence.
	Disabled bool `yaml:"disabled"`
}

// Config represents the structure of the newsagg config file.
type Config struct {
	Logger logger.Config       `yaml:"logger"`
	Client source.ClientConfig `yaml:"client"`
	Driver driver.Config       `yaml:"driver"`
	Dedup  dedup.Config        `yaml:"dedup"`
	Store  StoreConfig         `yaml:"store"`

	// Schedule is the cron expression for `serve`.
	Schedule string `yaml:"schedule"`
	Listen   string `yaml:"listen"`

	// SourcesFile is an optional YAML file of extra or overriding sources.
	SourcesFile  string `yaml:"sources_file"`
	SkipBuiltins bool   `yaml:"skip_builtins"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Logger: logger.Config{Level: "info"},
		Client: source.ClientConfig{
			UserAgent:         source.DefaultUserAgent,
			Timeout:           source.DefaultTimeout,
			MaxBodyBytes:      source.DefaultMaxBodyBytes,
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             1,
		},
		Driver:   driver.DefaultConfig(),
		Dedup:    dedup.DefaultConfig(),
		Store:    StoreConfig{Path: DefaultStorePath},
		Schedule: DefaultSchedule,
		Listen:   DefaultListen,
	}
}

// DefaultPath returns ~/.newsagg/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".newsagg", "config.yaml"), nil
}

// Load reads the config file at path over the defaults, applies NEWSAGG_*
// environment overrides and validates the result. An empty path means
// DefaultPath, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with a custom environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	optional := path == ""
	if optional {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
		// File doesn't exist -- not an error
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from NEWSAGG_* variables. Environment wins over
// the file.
func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"NEWSAGG_LOG_LEVEL":    &c.Logger.Level,
		"NEWSAGG_USER_AGENT":   &c.Client.UserAgent,
		"NEWSAGG_STORE_PATH":   &c.Store.Path,
		"NEWSAGG_SCHEDULE":     &c.Schedule,
		"NEWSAGG_LISTEN":       &c.Listen,
		"NEWSAGG_SOURCES_FILE": &c.SourcesFile,
	}
	for key, dst := range strs {
		if val := getenv(key); val != "" {
			*dst = val
		}
	}

	durations := map[string]*time.Duration{
		"NEWSAGG_SOURCE_TIMEOUT": &c.Driver.SourceTimeout,
		"NEWSAGG_RUN_TIMEOUT":    &c.Driver.RunTimeout,
		"NEWSAGG_DEDUP_WINDOW":   &c.Dedup.Window,
	}
	for key, dst := range durations {
		val := getenv(key)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
		}
		*dst = d
	}

	if val := getenv("NEWSAGG_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: NEWSAGG_CONCURRENCY: %w", ErrInvalid, err)
		}
		c.Driver.Concurrency = n
	}
	if val := getenv("NEWSAGG_DEDUP_THRESHOLD"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("%w: NEWSAGG_DEDUP_THRESHOLD: %w", ErrInvalid, err)
		}
		c.Dedup.Threshold = f
	}
	if val := getenv("NEWSAGG_STORE_DISABLED"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: NEWSAGG_STORE_DISABLED: %w", ErrInvalid, err)
		}
		c.Store.Disabled = b
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Driver.Concurrency > 0, "driver.concurrency must be positive, got %d", c.Driver.Concurrency)
	check(c.Driver.SourceTimeout > 0, "driver.source_timeout must be positive, got %s", c.Driver.SourceTimeout)
	check(c.Driver.RunTimeout >= 0, "driver.run_timeout must not be negative, got %s", c.Driver.RunTimeout)
	check(c.Dedup.Threshold > 0 && c.Dedup.Threshold <= 1, "dedup.threshold must be in (0, 1], got %g", c.Dedup.Threshold)
	check(c.Dedup.Window > 0, "dedup.window must be positive, got %s", c.Dedup.Window)
	check(c.Client.Timeout > 0, "client.timeout must be positive, got %s", c.Client.Timeout)
	check(c.Client.RequestsPerSecond >= 0, "client.requests_per_second must not be negative")
	check(c.Store.Disabled || c.Store.Path != "", "store.path is required unless the store is disabled")

	if c.Schedule != "" {
		if err := service.ValidateSchedule(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
		}
	}
	return errors.Join(errs...)
}
