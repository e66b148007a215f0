// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"sentinel.yaml",
	"sentinel.yml",
	"/etc/sentinel/config.yaml",
	"/etc/sentinel/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "SENTINEL_CONFIG_PATH"

// Load builds the configuration from three layers: struct defaults, an
// optional YAML file, and SENTINEL_* environment variables. Later
// layers override earlier ones.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// SENTINEL_SYNC_ENDPOINT -> sync.endpoint
	// SENTINEL_STORE_PATH -> store.path
	envProvider := env.Provider("SENTINEL_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring the env override.
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

// sliceConfigPaths lists config paths parsed as comma-separated slices
// when supplied through the environment.
var sliceConfigPaths = []string{
	"trackers.conference_processes",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars arrive as strings but the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from the YAML file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps SENTINEL_* environment variable names to koanf
// config paths. Unknown variables are skipped so unrelated environment
// entries never pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "SENTINEL_"))

	envMappings := map[string]string{
		"agent_id":      "agent.id",
		"agent_id_file": "agent.id_file",

		"window_enabled":        "trackers.window.enabled",
		"window_poll_interval":  "trackers.window.poll_interval",
		"browser_enabled":       "trackers.browser.enabled",
		"browser_poll_interval": "trackers.browser.poll_interval",
		"process_enabled":       "trackers.process.enabled",
		"process_poll_interval": "trackers.process.poll_interval",
		"conference_enabled":    "trackers.conference.enabled",
		"conference_processes":  "trackers.conference_processes",
		"screenshot_enabled":    "trackers.screenshot.enabled",
		"screenshot_interval":   "trackers.screenshot_interval",
		"spool_dir":             "trackers.spool_dir",

		"store_path":          "store.path",
		"store_sync_writes":   "store.sync_writes",
		"store_retention":     "store.retention",
		"store_reap_interval": "store.reap_interval",

		"sync_endpoint":           "sync.endpoint",
		"sync_register_endpoint":  "sync.register_endpoint",
		"sync_heartbeat_endpoint": "sync.heartbeat_endpoint",
		"sync_heartbeat_interval": "sync.heartbeat_interval",
		"sync_interval":           "sync.interval",
		"sync_batch_size":         "sync.batch_size",
		"sync_request_timeout":    "sync.request_timeout",
		"sync_retry_backoff":      "sync.retry_backoff",
		"sync_max_backoff":        "sync.max_backoff",
		"sync_rate_per_second":    "sync.rate_per_second",

		"plugins_dir":             "plugins.directory",
		"plugins_rescan_interval": "plugins.rescan_interval",

		"server_enabled": "server.enabled",
		"server_addr":    "server.addr",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		"update_manifest_url": "update.manifest_url",
		"update_public_key":   "update.public_key",
		"update_interval":     "update.interval",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped keys are dropped.
	return ""
}
