// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@redmine:example.org"
  access_token: "syt_token"
  allowed_rooms:
    - "!ops:example.org"

redmine:
  url: "https://redmine.example.org"
  admin_api_key: "admin-key"
  custom_field_id: 12
  timeout: "10s"

cache:
  backend: sqlite
  path: "./cache.db"
  token_ttl: "1h"

database:
  driver: mysql
  host: "db.internal"
  port: 3306
  user: "redmine_ro"
  password: "enc:abc"
  name: "redmine"

webhook:
  addr: "127.0.0.1:5000"
  secret_token: "s3cret"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.Homeserver != "https://matrix.example.org" {
		t.Errorf("Matrix.Homeserver = %q", cfg.Matrix.Homeserver)
	}
	if len(cfg.Matrix.AllowedRooms) != 1 || cfg.Matrix.AllowedRooms[0] != "!ops:example.org" {
		t.Errorf("Matrix.AllowedRooms = %v", cfg.Matrix.AllowedRooms)
	}
	if cfg.Redmine.CustomFieldID != 12 {
		t.Errorf("Redmine.CustomFieldID = %d, want 12", cfg.Redmine.CustomFieldID)
	}
	if cfg.Redmine.Timeout != 10*time.Second {
		t.Errorf("Redmine.Timeout = %v, want 10s", cfg.Redmine.Timeout)
	}
	if cfg.Cache.TokenTTL != time.Hour {
		t.Errorf("Cache.TokenTTL = %v, want 1h", cfg.Cache.TokenTTL)
	}
	if !IsEncrypted(cfg.Database.Password) {
		t.Errorf("Database.Password = %q, want encrypted marker", cfg.Database.Password)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Redmine.OpenStatusIDs != "1,2,3" {
		t.Errorf("Redmine.OpenStatusIDs = %q, want 1,2,3", cfg.Redmine.OpenStatusIDs)
	}
	if cfg.Redmine.DefaultPriority != "Обязательно" {
		t.Errorf("Redmine.DefaultPriority = %q", cfg.Redmine.DefaultPriority)
	}
	if got := cfg.Redmine.Priorities["НЕМЕДЛЕННО"]; got != 7 {
		t.Errorf("Priorities[НЕМЕДЛЕННО] = %d, want 7", got)
	}
	if cfg.Webhook.Path != "/v1/redmine" {
		t.Errorf("Webhook.Path = %q, want /v1/redmine", cfg.Webhook.Path)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@redmine:example.org"
access_token = "syt_token"
data_dir = "/var/lib/redmine-bridge"

[redmine]
url = "https://redmine.example.org"
custom_field_id = 3

[cache]
backend = "redis"
token_ttl = "30m"

[cache.redis]
addr = "localhost:6379"

[database]
driver = "postgres"
host = "pg"
name = "redmine"

[webhook]
secret_token = "s3cret"
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.Redis.Addr != "localhost:6379" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Cache.TokenTTL != 30*time.Minute {
		t.Errorf("Cache.TokenTTL = %v, want 30m", cfg.Cache.TokenTTL)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %q", cfg.Database.Driver)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MATRIX_TOKEN", "from-env")
	t.Setenv("TEST_WEBHOOK_SECRET", "env-secret")

	content := strings.Replace(validYAML, `"syt_token"`, `"${TEST_MATRIX_TOKEN}"`, 1)
	content = strings.Replace(content, `"s3cret"`, `"${TEST_WEBHOOK_SECRET}"`, 1)

	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Matrix.AccessToken != "from-env" {
		t.Errorf("Matrix.AccessToken = %q, want from-env", cfg.Matrix.AccessToken)
	}
	if cfg.Webhook.SecretToken != "env-secret" {
		t.Errorf("Webhook.SecretToken = %q, want env-secret", cfg.Webhook.SecretToken)
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	content := strings.Replace(validYAML, `"s3cret"`, `"${TEST_UNSET_WEBHOOK_SECRET_XYZ}"`, 1)

	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil {
		t.Fatal("Load() expected error for empty webhook secret")
	}
	if !strings.Contains(err.Error(), "webhook.secret_token") {
		t.Errorf("error = %v, want mention of webhook.secret_token", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "matrix: [unclosed"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := strings.Replace(validYAML, `token_ttl: "1h"`, `token_ttl: "soon"`, 1)

	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "token_ttl") {
		t.Errorf("error = %v, want mention of token_ttl", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"missing homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver"},
		{"missing redmine url", func(c *Config) { c.Redmine.URL = "" }, "redmine.url"},
		{"bad custom field", func(c *Config) { c.Redmine.CustomFieldID = 0 }, "custom_field_id"},
		{"unknown default priority", func(c *Config) { c.Redmine.DefaultPriority = "Low" }, "default_priority"},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis" }, "cache.redis.addr"},
		{"redis without data dir", func(c *Config) {
			c.Cache.Backend = "redis"
			c.Cache.Redis.Addr = "localhost:6379"
			c.Matrix.DataDir = ""
		}, "matrix.data_dir"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"e2ee without data dir", func(c *Config) { c.Matrix.E2EE = true }, "data_dir"},
		{"relative webhook path", func(c *Config) { c.Webhook.Path = "hook" }, "webhook.path"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_EXPAND_A", "alpha")

	got := expandEnvVars("key: ${TEST_EXPAND_A}/${TEST_EXPAND_MISSING_Q}")
	if got != "key: alpha/" {
		t.Errorf("expandEnvVars() = %q, want %q", got, "key: alpha/")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("REDMINE_BRIDGE_CONFIG", "/etc/redmine-bridge.yaml")
	if got := DefaultPath(); got != "/etc/redmine-bridge.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("REDMINE_BRIDGE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != "/tmp/xdg/redmine-bridge/config.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}
