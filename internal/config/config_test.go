// OpenPanel - Web Analytics Event Ingestion Pipeline
// Copyright 2026 OpenPanel Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jojovvz/openpanel

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Server.Port != 3100 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Errorf("IdleTimeout = %v", cfg.Session.IdleTimeout)
	}
	if cfg.NATS.RouterPoisonQueueTopic != "dlq.events" {
		t.Errorf("poison topic = %q", cfg.NATS.RouterPoisonQueueTopic)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, true},
		{"zero idle timeout", func(c *Config) { c.Session.IdleTimeout = 0 }, true},
		{"zero buffer ttl", func(c *Config) { c.Buffer.TTL = 0 }, true},
		{"no subscribers", func(c *Config) { c.NATS.SubscribersCount = 0 }, true},
		{"zero salt rotation", func(c *Config) { c.Ingest.SaltRotation = 0 }, true},
		{
			"valid rule",
			func(c *Config) {
				c.Notify.Rules = []NotificationRule{{
					ProjectID:  "proj-1",
					EventName:  "signup",
					WebhookURL: "https://hooks.example/x",
				}}
			},
			false,
		},
		{
			"rule without project",
			func(c *Config) {
				c.Notify.Rules = []NotificationRule{{WebhookURL: "https://hooks.example/x"}}
			},
			true,
		},
		{
			"rule without webhook",
			func(c *Config) {
				c.Notify.Rules = []NotificationRule{{ProjectID: "proj-1"}}
			},
			true,
		},
		{
			"rule with bad scheme",
			func(c *Config) {
				c.Notify.Rules = []NotificationRule{{ProjectID: "proj-1", WebhookURL: "ftp://x"}}
			},
			true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"HTTP_PORT", "server.port"},
		{"DUCKDB_PATH", "database.path"},
		{"SESSION_IDLE_TIMEOUT", "session.idle_timeout"},
		{"DEVICE_ID_SALT", "ingest.device_id_salt"},
		{"NATS_URL", "nats.url"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tc := range tests {
		if got := envTransformFunc(tc.in); got != tc.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "4000")
	t.Setenv("DUCKDB_PATH", "/tmp/op-test.duckdb")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/op-test.duckdb" {
		t.Errorf("Path = %q", cfg.Database.Path)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != "https://a.example" {
		t.Errorf("CORSOrigins = %#v", cfg.Server.CORSOrigins)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}
