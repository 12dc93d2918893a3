package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "192.168.0.1", cfg.Printer.Host)
	assert.Equal(t, 9100, cfg.Printer.Port)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Webhook.URL)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
printer:
  host: 10.1.2.3
  idle_max_wait: 5m
queue:
  max_attempts: 3
  retry_delay: 10s
webhook:
  url: http://hooks.local/print
  secret: s3cret
logging:
  level: debug
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.1.2.3", cfg.Printer.Host)
	assert.Equal(t, 9100, cfg.Printer.Port, "unset fields keep their defaults")
	assert.Equal(t, 5*time.Minute, cfg.Printer.IdleMaxWait)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, "http://hooks.local/print", cfg.Webhook.URL)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("printer: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("printer:\n  host: 10.1.2.3\n"), 0o644))

	t.Setenv("SPOOL_PRINTER_HOST", "10.9.9.9")
	t.Setenv("SPOOL_PRINTER_PORT", "9101")
	t.Setenv("SPOOL_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.9.9.9", cfg.Printer.Host)
	assert.Equal(t, 9101, cfg.Printer.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Printer.Host = "" }},
		{"port out of range", func(c *Config) { c.Printer.Port = 70000 }},
		{"zero connect timeout", func(c *Config) { c.Printer.ConnectTimeout = 0 }},
		{"zero idle poll", func(c *Config) { c.Printer.IdlePollInterval = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero max attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }},
		{"negative retry delay", func(c *Config) { c.Queue.RetryDelay = -time.Second }},
		{"zero queue poll", func(c *Config) { c.Queue.PollInterval = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, defaults().Validate())
}
