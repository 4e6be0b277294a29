package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsagg/dedup"
	"github.com/pevans/newsagg/driver"
)

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad_NoFile verifies defaults are used when ~/.newsagg/config.yaml is
// absent
func TestLoad_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadWithEnv("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, driver.DefaultConcurrency, cfg.Driver.Concurrency)
	assert.Equal(t, dedup.DefaultThreshold, cfg.Dedup.Threshold)
}

// TestLoad_DefaultPath verifies the file in the home directory is read
func TestLoad_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".newsagg"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".newsagg", "config.yaml"), []byte("listen: \":9000\"\n"), 0o600))

	cfg, err := LoadWithEnv("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
}

// TestLoad_MissingExplicitFile verifies a named file must exist
func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "nope.yaml"), noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

// TestLoad_ValidConfig verifies file values override defaults and unset
// values keep them
func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `logger:
  level: debug
  development: true
client:
  user_agent: "test-agent/1.0"
  requests_per_second: 0.5
driver:
  concurrency: 4
  source_timeout: 15s
dedup:
  threshold: 0.9
  window: 12h
store:
  path: /var/lib/newsagg/articles.db
schedule: "*/30 * * * *"
sources_file: sources.yaml
skip_builtins: true
`)

	cfg, err := LoadWithEnv(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Logger.Development)
	assert.Equal(t, "test-agent/1.0", cfg.Client.UserAgent)
	assert.Equal(t, 0.5, cfg.Client.RequestsPerSecond)
	assert.Equal(t, 4, cfg.Driver.Concurrency)
	assert.Equal(t, 15*time.Second, cfg.Driver.SourceTimeout)
	assert.Equal(t, driver.DefaultRunTimeout, cfg.Driver.RunTimeout, "unset keeps default")
	assert.Equal(t, 0.9, cfg.Dedup.Threshold)
	assert.Equal(t, 12*time.Hour, cfg.Dedup.Window)
	assert.Equal(t, "/var/lib/newsagg/articles.db", cfg.Store.Path)
	assert.Equal(t, "*/30 * * * *", cfg.Schedule)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, "sources.yaml", cfg.SourcesFile)
	assert.True(t, cfg.SkipBuiltins)
}

// TestLoad_InvalidYAML verifies parse errors are reported
func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "driver: [unclosed\n")

	_, err := LoadWithEnv(path, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

// TestLoad_EnvOverrides verifies environment variables win over the file
func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "driver:\n  concurrency: 4\nstore:\n  path: file.db\n")
	env := map[string]string{
		"NEWSAGG_CONCURRENCY":     "16",
		"NEWSAGG_STORE_PATH":      "env.db",
		"NEWSAGG_SOURCE_TIMEOUT":  "5s",
		"NEWSAGG_DEDUP_THRESHOLD": "0.7",
		"NEWSAGG_LOG_LEVEL":       "warn",
		"NEWSAGG_STORE_DISABLED":  "true",
	}

	cfg, err := LoadWithEnv(path, func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Driver.Concurrency)
	assert.Equal(t, "env.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Second, cfg.Driver.SourceTimeout)
	assert.Equal(t, 0.7, cfg.Dedup.Threshold)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.True(t, cfg.Store.Disabled)
}

// TestLoad_BadEnv verifies unparseable environment values are rejected
func TestLoad_BadEnv(t *testing.T) {
	for _, key := range []string{"NEWSAGG_CONCURRENCY", "NEWSAGG_RUN_TIMEOUT", "NEWSAGG_DEDUP_THRESHOLD", "NEWSAGG_STORE_DISABLED"} {
		t.Run(key, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			_, err := LoadWithEnv("", func(k string) string {
				if k == key {
					return "bogus"
				}
				return ""
			})
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

// TestValidate verifies each rule
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Driver.Concurrency = 0 }},
		{"zero source timeout", func(c *Config) { c.Driver.SourceTimeout = 0 }},
		{"negative run timeout", func(c *Config) { c.Driver.RunTimeout = -time.Second }},
		{"zero threshold", func(c *Config) { c.Dedup.Threshold = 0 }},
		{"threshold above one", func(c *Config) { c.Dedup.Threshold = 1.5 }},
		{"zero window", func(c *Config) { c.Dedup.Window = 0 }},
		{"zero client timeout", func(c *Config) { c.Client.Timeout = 0 }},
		{"negative rate", func(c *Config) { c.Client.RequestsPerSecond = -1 }},
		{"no store path", func(c *Config) { c.Store.Path = "" }},
		{"bad schedule", func(c *Config) { c.Schedule = "whenever" }},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	cfg := Default()
	cfg.Store = StoreConfig{Disabled: true}
	cfg.Schedule = ""
	assert.NoError(t, cfg.Validate(), "disabled store needs no path; empty schedule is allowed")
}

// TestValidate_ReportsAll verifies every problem is reported together
func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Driver.Concurrency = 0
	cfg.Dedup.Threshold = 2

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver.concurrency")
	assert.Contains(t, err.Error(), "dedup.threshold")
}
