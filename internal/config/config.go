// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

// Package config loads service configuration from layered sources with the
// precedence ENV > YAML file > built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/openpanel/config.yaml",
	"/etc/openpanel/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config is the root service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Store    StoreConfig    `koanf:"store"`
	Session  SessionConfig  `koanf:"session"`
	Buffer   BufferConfig   `koanf:"buffer"`
	NATS     NATSConfig     `koanf:"nats"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Notify   NotifyConfig   `koanf:"notify"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the ingest HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// DatabaseConfig configures the DuckDB event store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// StoreConfig configures the shared BadgerDB instance backing the session
// store and the screen-view buffer.
type StoreConfig struct {
	// Path is the Badger data directory. Empty means in-memory, which
	// loses sessions on restart.
	Path string `koanf:"path"`
}

// SessionConfig configures session stitching.
type SessionConfig struct {
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

// BufferConfig configures the screen-view backfill buffer.
type BufferConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// NATSConfig configures the embedded JetStream broker and the event queue
// running on it.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamRetentionDays int    `koanf:"stream_retention_days"`
	SubscribersCount    int    `koanf:"subscribers_count"`
	DurableName         string `koanf:"durable_name"`
	QueueGroup          string `koanf:"queue_group"`

	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterPoisonQueueEnabled   bool          `koanf:"router_poison_queue_enabled"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// IngestConfig configures device identity derivation at the HTTP edge.
type IngestConfig struct {
	// DeviceIDSalt seeds the daily-rotating device hash. Must be set in
	// production; anonymity of device IDs depends on it staying secret.
	DeviceIDSalt string `koanf:"device_id_salt"`

	// SaltRotation is the device hash rotation window.
	SaltRotation time.Duration `koanf:"salt_rotation"`
}

// NotifyConfig configures event notification rules.
type NotifyConfig struct {
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerSecond caps outbound webhook calls. Zero disables the cap.
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	Rules []NotificationRule `koanf:"rules"`
}

// NotificationRule forwards matching events to a webhook. An empty
// EventName matches every event of the project.
type NotificationRule struct {
	ProjectID  string `koanf:"project_id"`
	EventName  string `koanf:"event_name"`
	WebhookURL string `koanf:"webhook_url"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and env
// layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3100,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path:      "/data/openpanel.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Store: StoreConfig{
			Path: "/data/store",
		},
		Session: SessionConfig{
			IdleTimeout: 30 * time.Minute,
		},
		Buffer: BufferConfig{
			TTL: 48 * time.Hour,
		},
		NATS: NATSConfig{
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      true,
			StoreDir:            "/data/nats/jetstream",
			MaxMemory:           1 << 30,  // 1GB
			MaxStore:            10 << 30, // 10GB
			StreamRetentionDays: 7,
			SubscribersCount:    4,
			DurableName:         "event-processor",
			QueueGroup:          "processors",

			RouterRetryCount:           3,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterPoisonQueueEnabled:   true,
			RouterPoisonQueueTopic:     "dlq.events",
			RouterCloseTimeout:         30 * time.Second,
		},
		Ingest: IngestConfig{
			DeviceIDSalt: "",
			SaltRotation: 24 * time.Hour,
		},
		Notify: NotifyConfig{
			Timeout:           10 * time.Second,
			RequestsPerSecond: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// they arrive as env var strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated env values to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config paths.
// Unknown variables are ignored so unrelated environment noise cannot
// corrupt the configuration.
var envMappings = map[string]string{
	"http_host":                 "server.host",
	"http_port":                 "server.port",
	"http_timeout":              "server.timeout",
	"cors_origins":              "server.cors_origins",
	"rate_limit_reqs":           "server.rate_limit_reqs",
	"rate_limit_window":         "server.rate_limit_window",
	"rate_limit_disabled":       "server.rate_limit_disabled",
	"duckdb_path":               "database.path",
	"duckdb_max_memory":         "database.max_memory",
	"duckdb_threads":            "database.threads",
	"store_path":                "store.path",
	"session_idle_timeout":      "session.idle_timeout",
	"buffer_ttl":                "buffer.ttl",
	"nats_url":                  "nats.url",
	"nats_embedded_server":      "nats.embedded_server",
	"nats_store_dir":            "nats.store_dir",
	"nats_max_memory":           "nats.max_memory",
	"nats_max_store":            "nats.max_store",
	"nats_retention_days":       "nats.stream_retention_days",
	"nats_subscribers_count":    "nats.subscribers_count",
	"nats_durable_name":         "nats.durable_name",
	"nats_queue_group":          "nats.queue_group",
	"device_id_salt":            "ingest.device_id_salt",
	"device_id_salt_rotation":   "ingest.salt_rotation",
	"notify_timeout":            "notify.timeout",
	"notify_requests_per_second": "notify.requests_per_second",
	"log_level":                 "logging.level",
	"log_format":                "logging.format",
	"log_caller":                "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path, or
// empty to skip it.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path required")
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.Buffer.TTL <= 0 {
		return fmt.Errorf("buffer.ttl must be positive")
	}
	if c.NATS.SubscribersCount < 1 {
		return fmt.Errorf("nats.subscribers_count must be at least 1")
	}
	if c.Ingest.SaltRotation <= 0 {
		return fmt.Errorf("ingest.salt_rotation must be positive")
	}
	for i, rule := range c.Notify.Rules {
		if rule.ProjectID == "" {
			return fmt.Errorf("notify.rules[%d]: project_id required", i)
		}
		if rule.WebhookURL == "" {
			return fmt.Errorf("notify.rules[%d]: webhook_url required", i)
		}
		if !strings.HasPrefix(rule.WebhookURL, "http://") && !strings.HasPrefix(rule.WebhookURL, "https://") {
			return fmt.Errorf("notify.rules[%d]: webhook_url must be http(s)", i)
		}
	}
	return nil
}
