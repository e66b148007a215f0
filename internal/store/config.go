// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package store provides the agent's durable event store on BadgerDB.
// Every observation reported as captured is persisted here (ACID, fsync)
// before anything else happens to it; the sync engine drains it and marks
// events synced only on positive acknowledgment from the collection
// service. The store is the single shared mutable resource in the agent
// and the sole arbiter of event state.
package store

import (
	"time"
)

// Config holds durable store configuration.
type Config struct {
	// Path is the directory where BadgerDB stores its files. Must be on
	// a durable filesystem (not tmpfs).
	Path string `koanf:"path"`

	// SyncWrites forces fsync after every write. Disabling trades crash
	// durability for throughput; the default keeps it on.
	SyncWrites bool `koanf:"sync_writes"`

	// Retention is how long synced events are kept before the reaper
	// deletes them. Pending events are never reaped regardless of age.
	Retention time.Duration `koanf:"retention"`

	// ReapInterval is the time between reaper sweeps.
	ReapInterval time.Duration `koanf:"reap_interval"`

	// BadgerDB tuning.
	MemTableSize     int64 `koanf:"mem_table_size"`
	ValueLogFileSize int64 `koanf:"value_log_file_size"`
	NumCompactors    int   `koanf:"num_compactors"`

	// GCRatio is the ratio for value log garbage collection.
	GCRatio float64 `koanf:"gc_ratio"`

	// CloseTimeout bounds graceful shutdown of the database.
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// DefaultConfig returns defaults that prioritize durability over
// performance, sized for a workstation agent.
func DefaultConfig() Config {
	return Config{
		Path:             "/var/lib/sentinel/store",
		SyncWrites:       true,
		Retention:        72 * time.Hour,
		ReapInterval:     15 * time.Minute,
		MemTableSize:     8 * 1024 * 1024,
		ValueLogFileSize: 32 * 1024 * 1024,
		NumCompactors:    2,
		GCRatio:          0.5,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Path == "" {
		return &ConfigError{Field: "Path", Message: "store path is required"}
	}
	if c.Retention < time.Minute {
		return &ConfigError{Field: "Retention", Message: "must be at least 1 minute"}
	}
	if c.ReapInterval < time.Second {
		return &ConfigError{Field: "ReapInterval", Message: "must be at least 1 second"}
	}
	if c.MemTableSize < 1024*1024 {
		return &ConfigError{Field: "MemTableSize", Message: "must be at least 1MB"}
	}
	if c.ValueLogFileSize < 1024*1024 {
		return &ConfigError{Field: "ValueLogFileSize", Message: "must be at least 1MB"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be in (0, 1)"}
	}
	return nil
}

// ConfigError represents a store configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "store config error: " + e.Field + ": " + e.Message
}
