// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/sentinel.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Trackers.Window.Enabled {
		t.Error("window tracker should be enabled by default")
	}
	if cfg.Trackers.Screenshot.Enabled {
		t.Error("screenshot tracker should be disabled by default")
	}
	if cfg.Sync.BatchSize != 500 {
		t.Errorf("sync batch size = %d, want 500", cfg.Sync.BatchSize)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("sync interval = %v, want 30s", cfg.Sync.Interval)
	}
	if cfg.Store.Retention != 72*time.Hour {
		t.Errorf("retention = %v, want 72h", cfg.Store.Retention)
	}
	if cfg.Server.Addr != "127.0.0.1:9823" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	content := `
store:
  path: /tmp/sentinel-test-store
  retention: 24h
sync:
  endpoint: https://collector.example.com/v1/events
  batch_size: 100
trackers:
  conference_processes:
    - zoom
    - teams
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.Path != "/tmp/sentinel-test-store" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if cfg.Store.Retention != 24*time.Hour {
		t.Errorf("retention = %v, want 24h", cfg.Store.Retention)
	}
	if cfg.Sync.Endpoint != "https://collector.example.com/v1/events" {
		t.Errorf("endpoint = %q", cfg.Sync.Endpoint)
	}
	if cfg.Sync.BatchSize != 100 {
		t.Errorf("batch size = %d, want 100", cfg.Sync.BatchSize)
	}
	if len(cfg.Trackers.ConferenceProcesses) != 2 || cfg.Trackers.ConferenceProcesses[0] != "zoom" {
		t.Errorf("conference processes = %v", cfg.Trackers.ConferenceProcesses)
	}
	// Defaults survive the file layer.
	if cfg.Sync.MaxBackoff != 5*time.Minute {
		t.Errorf("max backoff = %v, want 5m", cfg.Sync.MaxBackoff)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	content := `
sync:
  endpoint: https://file.example.com/events
  batch_size: 100
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SENTINEL_SYNC_ENDPOINT", "https://env.example.com/events")
	t.Setenv("SENTINEL_SYNC_BATCH_SIZE", "250")
	t.Setenv("SENTINEL_CONFERENCE_PROCESSES", "zoom, webex ,slack")
	t.Setenv("SENTINEL_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sync.Endpoint != "https://env.example.com/events" {
		t.Errorf("endpoint = %q, env should win", cfg.Sync.Endpoint)
	}
	if cfg.Sync.BatchSize != 250 {
		t.Errorf("batch size = %d, want 250", cfg.Sync.BatchSize)
	}
	want := []string{"zoom", "webex", "slack"}
	if len(cfg.Trackers.ConferenceProcesses) != len(want) {
		t.Fatalf("conference processes = %v, want %v", cfg.Trackers.ConferenceProcesses, want)
	}
	for i, p := range want {
		if cfg.Trackers.ConferenceProcesses[i] != p {
			t.Errorf("conference process [%d] = %q, want %q", i, cfg.Trackers.ConferenceProcesses[i], p)
		}
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestUnknownEnvVarsAreIgnored(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/sentinel.yaml")
	t.Setenv("SENTINEL_BOGUS_SETTING", "whatever")

	if _, err := Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "empty store path",
			mutate: func(c *Config) { c.Store.Path = "" },
			want:   "invalid configuration",
		},
		{
			name:   "zero batch size",
			mutate: func(c *Config) { c.Sync.BatchSize = 0 },
			want:   "invalid configuration",
		},
		{
			name:   "malformed endpoint",
			mutate: func(c *Config) { c.Sync.Endpoint = "not a url" },
			want:   "invalid configuration",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "loud" },
			want:   "invalid configuration",
		},
		{
			name: "register endpoint without sync endpoint",
			mutate: func(c *Config) {
				c.Sync.RegisterEndpoint = "https://collector.example.com/register"
				c.Sync.Endpoint = ""
			},
			want: "register_endpoint",
		},
		{
			name: "update url without public key",
			mutate: func(c *Config) {
				c.Update.ManifestURL = "https://releases.example.com/manifest.json"
				c.Update.PublicKey = ""
			},
			want: "public_key",
		},
		{
			name: "screenshot without spool dir",
			mutate: func(c *Config) {
				c.Trackers.Screenshot.Enabled = true
				c.Trackers.SpoolDir = ""
			},
			want: "spool_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
