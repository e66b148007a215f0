// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package config defines the agent configuration and its layered loader:
// built-in defaults, then an optional YAML file, then environment
// variables. Precedence is ENV > file > defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root agent configuration.
type Config struct {
	Agent    AgentConfig    `koanf:"agent" validate:"required"`
	Trackers TrackersConfig `koanf:"trackers"`
	Store    StoreConfig    `koanf:"store" validate:"required"`
	Sync     SyncConfig     `koanf:"sync" validate:"required"`
	Plugins  PluginsConfig  `koanf:"plugins"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Update   UpdateConfig   `koanf:"update"`
}

// AgentConfig identifies this installation.
type AgentConfig struct {
	// ID is the stable installation identity reported to the
	// collection service. Generated and persisted on first run when
	// empty.
	ID string `koanf:"id"`

	// IDFile is where a generated ID is persisted.
	IDFile string `koanf:"id_file"`
}

// TrackerConfig is the per-source schedule shared by all built-ins.
type TrackerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"omitempty,min=100ms"`
	Timeout      time.Duration `koanf:"timeout"`
}

// TrackersConfig configures the built-in capture sources.
type TrackersConfig struct {
	Window     TrackerConfig `koanf:"window"`
	Browser    TrackerConfig `koanf:"browser"`
	Process    TrackerConfig `koanf:"process"`
	Conference TrackerConfig `koanf:"conference"`
	Screenshot TrackerConfig `koanf:"screenshot"`

	// ConferenceProcesses overrides the built-in conferencing client
	// process name list.
	ConferenceProcesses []string `koanf:"conference_processes"`

	// ScreenshotInterval is the minimum time between screenshots,
	// independent of the poll interval.
	ScreenshotInterval time.Duration `koanf:"screenshot_interval"`

	// SpoolDir holds screenshot payload files.
	SpoolDir string `koanf:"spool_dir"`
}

// StoreConfig configures the durable event store.
type StoreConfig struct {
	Path         string        `koanf:"path" validate:"required"`
	SyncWrites   bool          `koanf:"sync_writes"`
	Retention    time.Duration `koanf:"retention" validate:"required,min=1m"`
	ReapInterval time.Duration `koanf:"reap_interval" validate:"required,min=1s"`
}

// SyncConfig configures the sync engine and its collaborators.
type SyncConfig struct {
	// Endpoint is the batch ingestion URL. Empty disables syncing;
	// events then accumulate until retention is the only bound.
	Endpoint string `koanf:"endpoint" validate:"omitempty,url"`

	// RegisterEndpoint issues bearer tokens. Empty means the ingest
	// endpoint is unauthenticated.
	RegisterEndpoint string `koanf:"register_endpoint" validate:"omitempty,url"`

	// HeartbeatEndpoint receives liveness reports. Empty disables.
	HeartbeatEndpoint string        `koanf:"heartbeat_endpoint" validate:"omitempty,url"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	Interval       time.Duration `koanf:"interval" validate:"required,min=1s"`
	BatchSize      int           `koanf:"batch_size" validate:"required,min=1,max=10000"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	RatePerSecond  float64       `koanf:"rate_per_second"`
}

// PluginsConfig configures the plugin loader.
type PluginsConfig struct {
	// Directory is the plugin root. Empty disables plugin loading.
	Directory      string        `koanf:"directory"`
	RescanInterval time.Duration `koanf:"rescan_interval" validate:"omitempty,min=1s"`
}

// ServerConfig configures the local status server.
type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// UpdateConfig configures self-update.
type UpdateConfig struct {
	ManifestURL string        `koanf:"manifest_url" validate:"omitempty,url"`
	PublicKey   string        `koanf:"public_key"`
	Interval    time.Duration `koanf:"interval"`
}

// defaultConfig returns the built-in defaults, overridden by file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			IDFile: "/var/lib/sentinel/agent-id",
		},
		Trackers: TrackersConfig{
			Window:             TrackerConfig{Enabled: true, PollInterval: 2 * time.Second, Timeout: 3 * time.Second},
			Browser:            TrackerConfig{Enabled: true, PollInterval: 2 * time.Second, Timeout: 3 * time.Second},
			Process:            TrackerConfig{Enabled: true, PollInterval: 15 * time.Second, Timeout: 10 * time.Second},
			Conference:         TrackerConfig{Enabled: true, PollInterval: 10 * time.Second, Timeout: 10 * time.Second},
			Screenshot:         TrackerConfig{Enabled: false, PollInterval: time.Minute, Timeout: 15 * time.Second},
			ScreenshotInterval: 5 * time.Minute,
			SpoolDir:           "/var/lib/sentinel/spool",
		},
		Store: StoreConfig{
			Path:         "/var/lib/sentinel/store",
			SyncWrites:   true,
			Retention:    72 * time.Hour,
			ReapInterval: 15 * time.Minute,
		},
		Sync: SyncConfig{
			Interval:          30 * time.Second,
			BatchSize:         500,
			RequestTimeout:    60 * time.Second,
			RetryBackoff:      time.Second,
			MaxBackoff:        5 * time.Minute,
			RatePerSecond:     2,
			HeartbeatInterval: time.Minute,
		},
		Plugins: PluginsConfig{
			Directory:      "/var/lib/sentinel/plugins",
			RescanInterval: time.Minute,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9823",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Update: UpdateConfig{
			Interval: 6 * time.Hour,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for consistency beyond what struct
// tags express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Sync.RegisterEndpoint != "" && c.Sync.Endpoint == "" {
		return fmt.Errorf("invalid configuration: register_endpoint set without sync endpoint")
	}
	if c.Update.ManifestURL != "" && c.Update.PublicKey == "" {
		return fmt.Errorf("invalid configuration: update manifest_url set without public_key")
	}
	if c.Trackers.Screenshot.Enabled && c.Trackers.SpoolDir == "" {
		return fmt.Errorf("invalid configuration: screenshot tracker enabled without spool_dir")
	}
	return nil
}
