// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package plugin discovers, loads, and supervises out-of-process capture
// plugins.
//
// A plugin is a directory under the plugin root containing a plugin.json
// manifest and an executable entry point. The entry point runs as a child
// process speaking newline-delimited JSON over stdin/stdout, so a
// misbehaving plugin can always be removed by killing its process; no
// plugin code ever runs in the agent's address space.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// CapabilityCaptureSource is the only capability the agent loads.
const CapabilityCaptureSource = "capture-source"

// ProtocolVersion is the stdio protocol revision this host speaks.
const ProtocolVersion = 1

// ManifestFileName is the manifest file expected in each plugin directory.
const ManifestFileName = "plugin.json"

// Manifest is the parsed plugin.json.
type Manifest struct {
	Name            string `json:"name" validate:"required"`
	Version         string `json:"version" validate:"required"`
	EntryPoint      string `json:"entry_point" validate:"required"`
	Capability      string `json:"capability" validate:"required"`
	ProtocolVersion int    `json:"protocol_version" validate:"required,min=1"`

	// PollIntervalSeconds overrides the orchestrator default when > 0.
	PollIntervalSeconds int `json:"poll_interval_seconds,omitempty" validate:"omitempty,min=1"`

	// TimeoutSeconds bounds one capture request when > 0.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" validate:"omitempty,min=1"`

	Description string `json:"description,omitempty"`
}

// PollInterval returns the manifest's poll interval, zero when unset.
func (m *Manifest) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// Timeout returns the manifest's per-capture timeout, zero when unset.
func (m *Manifest) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// LoadError records why one plugin directory could not be loaded. Load
// failures are isolated: they are reported, never fatal to the agent.
type LoadError struct {
	Dir    string `json:"dir"`
	Reason string `json:"reason"`
}

// Error implements error.
func (e LoadError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.Dir, e.Reason)
}

var manifestValidator = validator.New(validator.WithRequiredStructEnabled())

// ReadManifest parses and validates the manifest in dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := manifestValidator.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if m.Capability != CapabilityCaptureSource {
		return nil, fmt.Errorf("unsupported capability %q", m.Capability)
	}
	if m.ProtocolVersion != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", m.ProtocolVersion)
	}
	if filepath.IsAbs(m.EntryPoint) {
		return nil, fmt.Errorf("entry point must be relative to the plugin directory")
	}

	entry := filepath.Join(dir, m.EntryPoint)
	if rel, err := filepath.Rel(dir, entry); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("entry point escapes the plugin directory")
	}
	info, err := os.Stat(entry)
	if err != nil {
		return nil, fmt.Errorf("entry point: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("entry point %q is a directory", m.EntryPoint)
	}

	return &m, nil
}
