// ABOUTME: Configuration loading and parsing for trestle-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete trestle-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// ServerConfig holds the gateway's own listen configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// UpstreamConfig identifies the model server this gateway fronts
type UpstreamConfig struct {
	Hostname   string `yaml:"hostname"`
	Port       int    `yaml:"port"`
	BasePath   string `yaml:"base_path"`
	APIVersion int    `yaml:"api_version"`
}

// TransactionsConfig holds transaction timing and safety limits
type TransactionsConfig struct {
	ConnectTimeout time.Duration `yaml:"-"`
	ReplyTimeout   time.Duration `yaml:"-"`

	// MaxTriggerRounds bounds the trigger loop during commit. A commit that
	// still produces triggers after this many rounds is rolled back.
	MaxTriggerRounds int `yaml:"max_trigger_rounds"`

	// Raw string values for YAML unmarshaling
	ConnectTimeoutRaw string `yaml:"connect_timeout"`
	ReplyTimeoutRaw   string `yaml:"reply_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no config file exists: a local
// gateway in front of a model server on its conventional port.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{HTTPAddr: "localhost:8082"},
		Upstream: UpstreamConfig{
			Hostname:   "localhost",
			Port:       8081,
			BasePath:   "api",
			APIVersion: 2,
		},
		Transactions: TransactionsConfig{
			ConnectTimeout:   10 * time.Second,
			ReplyTimeout:     30 * time.Second,
			MaxTriggerRounds: 100,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: false, Path: "/metrics"},
	}
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Upstream.Hostname == "" {
		return fmt.Errorf("upstream.hostname is required")
	}
	if c.Upstream.Port <= 0 || c.Upstream.Port > 65535 {
		return fmt.Errorf("upstream.port must be in (0, 65535], got %d", c.Upstream.Port)
	}
	if c.Upstream.APIVersion <= 0 {
		return fmt.Errorf("upstream.api_version must be positive, got %d", c.Upstream.APIVersion)
	}
	if c.Transactions.MaxTriggerRounds <= 0 {
		return fmt.Errorf("transactions.max_trigger_rounds must be positive, got %d", c.Transactions.MaxTriggerRounds)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Transactions.ConnectTimeoutRaw != "" {
		cfg.Transactions.ConnectTimeout, err = time.ParseDuration(cfg.Transactions.ConnectTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing connect_timeout %q: %w", cfg.Transactions.ConnectTimeoutRaw, err)
		}
	}

	if cfg.Transactions.ReplyTimeoutRaw != "" {
		cfg.Transactions.ReplyTimeout, err = time.ParseDuration(cfg.Transactions.ReplyTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing reply_timeout %q: %w", cfg.Transactions.ReplyTimeoutRaw, err)
		}
	}

	return nil
}
