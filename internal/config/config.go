package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Printer  PrinterConfig  `yaml:"printer"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Server   ServerConfig   `yaml:"server"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type PrinterConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	LongReadTimeout  time.Duration `yaml:"long_read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdlePollInterval time.Duration `yaml:"idle_poll_interval"`
	IdleMaxWait      time.Duration `yaml:"idle_max_wait"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type QueueConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// WebhookConfig points job outcome events at an external endpoint.
// An empty URL disables delivery.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Printer: PrinterConfig{
			Host:             "192.168.0.1",
			Port:             9100,
			ConnectTimeout:   3 * time.Second,
			ReadTimeout:      5 * time.Second,
			LongReadTimeout:  30 * time.Second,
			WriteTimeout:     10 * time.Second,
			IdlePollInterval: 2500 * time.Millisecond,
			IdleMaxWait:      2 * time.Minute,
		},
		Database: DatabaseConfig{
			Path: "./data/spool.db",
		},
		Queue: QueueConfig{
			MaxAttempts:  5,
			RetryDelay:   30 * time.Second,
			PollInterval: 5 * time.Second,
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at configPath, falling back to defaults
// when the file does not exist. Environment overrides are applied last.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SPOOL_PRINTER_HOST"); v != "" {
		c.Printer.Host = v
	}

	if v := os.Getenv("SPOOL_PRINTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Printer.Port = port
		}
	}

	if v := os.Getenv("SPOOL_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("SPOOL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("SPOOL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Printer.Host == "" {
		return fmt.Errorf("printer host is required")
	}

	if c.Printer.Port < 1 || c.Printer.Port > 65535 {
		return fmt.Errorf("printer port must be between 1 and 65535, got %d", c.Printer.Port)
	}

	if c.Printer.ConnectTimeout <= 0 {
		return fmt.Errorf("printer connect timeout must be positive")
	}

	if c.Printer.ReadTimeout <= 0 {
		return fmt.Errorf("printer read timeout must be positive")
	}

	if c.Printer.WriteTimeout <= 0 {
		return fmt.Errorf("printer write timeout must be positive")
	}

	if c.Printer.IdlePollInterval <= 0 {
		return fmt.Errorf("idle poll interval must be positive")
	}

	if c.Printer.IdleMaxWait <= 0 {
		return fmt.Errorf("idle max wait must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be at least 1")
	}

	if c.Queue.RetryDelay < 0 {
		return fmt.Errorf("queue retry delay must be non-negative")
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll interval must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}
