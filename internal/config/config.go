// ABOUTME: Configuration loading and parsing for redmine-bridge
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete redmine-bridge configuration
type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	Redmine  RedmineConfig  `yaml:"redmine" toml:"redmine"`
	Cache    CacheConfig    `yaml:"cache" toml:"cache"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook" toml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// MatrixConfig holds the chat side of the bridge
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	DeviceID     string   `yaml:"device_id" toml:"device_id"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`

	// E2EE is optional. When enabled the crypto store lives in DataDir.
	E2EE        bool   `yaml:"e2ee" toml:"e2ee"`
	DataDir     string `yaml:"data_dir" toml:"data_dir"`
	PickleKey   string `yaml:"pickle_key" toml:"pickle_key"`
	RecoveryKey string `yaml:"recovery_key" toml:"recovery_key"`
}

// RedmineConfig holds tracker connection settings
type RedmineConfig struct {
	URL           string         `yaml:"url" toml:"url"`
	AdminAPIKey   string         `yaml:"admin_api_key" toml:"admin_api_key"`
	CustomFieldID int            `yaml:"custom_field_id" toml:"custom_field_id"`
	OpenStatusIDs string         `yaml:"open_status_ids" toml:"open_status_ids"`
	Priorities    map[string]int `yaml:"priorities" toml:"priorities"`

	// DefaultPriority names the entry in Priorities used when the user skips the choice.
	DefaultPriority string `yaml:"default_priority" toml:"default_priority"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// CacheConfig selects and configures the fast key/value store
type CacheConfig struct {
	Backend string      `yaml:"backend" toml:"backend"` // sqlite, redis
	Path    string      `yaml:"path" toml:"path"`
	Redis   RedisConfig `yaml:"redis" toml:"redis"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

// DatabaseConfig points at the Redmine database used to look up API tokens.
// Password may be given as "enc:<ciphertext>" and is decrypted at startup.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"` // mysql, postgres, sqlite
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Name     string `yaml:"name" toml:"name"`
}

// WebhookConfig holds the inbound notification listener
type WebhookConfig struct {
	Addr        string `yaml:"addr" toml:"addr"`
	Path        string `yaml:"path" toml:"path"`
	SecretToken string `yaml:"secret_token" toml:"secret_token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// EncryptedPrefix marks a config value that must be decrypted before use.
const EncryptedPrefix = "enc:"

// IsEncrypted reports whether the value carries EncryptedPrefix.
func IsEncrypted(v string) bool {
	return strings.HasPrefix(v, EncryptedPrefix)
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath resolves the config location: REDMINE_BRIDGE_CONFIG, then
// $XDG_CONFIG_HOME/redmine-bridge/config.yaml, then ~/.config/redmine-bridge/config.yaml.
func DefaultPath() string {
	if p := os.Getenv("REDMINE_BRIDGE_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "redmine-bridge", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "redmine-bridge", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// DefaultPriorities mirrors the stock Redmine priority enumeration.
func DefaultPriorities() map[string]int {
	return map[string]int{
		"Обязательно": 4,
		"Срочно":      6,
		"НЕМЕДЛЕННО":  7,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Redmine.OpenStatusIDs == "" {
		cfg.Redmine.OpenStatusIDs = "1,2,3"
	}
	if len(cfg.Redmine.Priorities) == 0 {
		cfg.Redmine.Priorities = DefaultPriorities()
	}
	if cfg.Redmine.DefaultPriority == "" {
		cfg.Redmine.DefaultPriority = "Обязательно"
	}
	if cfg.Redmine.TimeoutRaw == "" {
		cfg.Redmine.TimeoutRaw = "30s"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "sqlite"
	}
	if cfg.Cache.TokenTTLRaw == "" {
		cfg.Cache.TokenTTLRaw = "24h"
	}
	if cfg.Webhook.Addr == "" {
		cfg.Webhook.Addr = "0.0.0.0:5000"
	}
	if cfg.Webhook.Path == "" {
		cfg.Webhook.Path = "/v1/redmine"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return errors.New("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return errors.New("matrix.user_id is required")
	}
	if c.Matrix.AccessToken == "" {
		return errors.New("matrix.access_token is required")
	}
	if c.Matrix.E2EE && c.Matrix.DataDir == "" {
		return errors.New("matrix.data_dir is required when e2ee is enabled")
	}

	if c.Redmine.URL == "" {
		return errors.New("redmine.url is required")
	}
	if c.Redmine.CustomFieldID <= 0 {
		return errors.New("redmine.custom_field_id must be positive")
	}
	if _, ok := c.Redmine.Priorities[c.Redmine.DefaultPriority]; !ok {
		return fmt.Errorf("redmine.default_priority %q is not in redmine.priorities", c.Redmine.DefaultPriority)
	}

	switch c.Cache.Backend {
	case "sqlite":
		if c.Cache.Path == "" {
			return errors.New("cache.path is required for the sqlite backend")
		}
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr is required for the redis backend")
		}
		if c.Matrix.DataDir == "" {
			return errors.New("matrix.data_dir is required for the redis backend (holds the message ledger)")
		}
	default:
		return fmt.Errorf("cache.backend must be sqlite or redis, got %q", c.Cache.Backend)
	}

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database.host and database.name are required for %s", c.Database.Driver)
		}
	case "sqlite":
		if c.Database.Name == "" {
			return errors.New("database.name is required for sqlite (path to the database file)")
		}
	default:
		return fmt.Errorf("database.driver must be mysql, postgres or sqlite, got %q", c.Database.Driver)
	}

	if c.Webhook.SecretToken == "" {
		return errors.New("webhook.secret_token is required")
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		return fmt.Errorf("webhook.path must start with /, got %q", c.Webhook.Path)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	cfg.Redmine.Timeout, err = time.ParseDuration(cfg.Redmine.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing redmine.timeout %q: %w", cfg.Redmine.TimeoutRaw, err)
	}

	cfg.Cache.TokenTTL, err = time.ParseDuration(cfg.Cache.TokenTTLRaw)
	if err != nil {
		return fmt.Errorf("parsing cache.token_ttl %q: %w", cfg.Cache.TokenTTLRaw, err)
	}
	if cfg.Cache.TokenTTL <= 0 {
		return fmt.Errorf("cache.token_ttl must be positive, got %s", cfg.Cache.TokenTTL)
	}

	return nil
}
