// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"sync"
	"time"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/capture"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// Registry is the slice of the orchestrator the plugin manager needs.
type Registry interface {
	Register(src capture.Source, desc capture.Descriptor) error
	Unregister(name string) error
}

// Options tune plugin hosting.
type Options struct {
	// HandshakeTimeout bounds the describe round trip at load time.
	HandshakeTimeout time.Duration

	// ShutdownGrace is how long an unloaded plugin gets to exit before
	// being killed.
	ShutdownGrace time.Duration

	// DefaultCaptureTimeout applies to manifests without their own.
	DefaultCaptureTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 2 * time.Second
	}
	if o.DefaultCaptureTimeout <= 0 {
		o.DefaultCaptureTimeout = 3 * time.Second
	}
}

// loadedPlugin tracks one live plugin.
type loadedPlugin struct {
	candidate Candidate
	host      *host
}

// Status describes one loaded plugin for the status API.
type Status struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Dir     string `json:"dir"`
}

// Manager loads and unloads plugin processes and registers them as
// capture sources. Load failures are isolated per plugin; one bad
// directory never affects the others or the agent.
type Manager struct {
	registry Registry
	opts     Options

	mu       sync.Mutex
	loaded   map[string]*loadedPlugin
	failures []LoadError
}

// NewManager creates a plugin manager registering sources into registry.
func NewManager(registry Registry, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		registry: registry,
		opts:     opts,
		loaded:   make(map[string]*loadedPlugin),
	}
}

// Load starts the candidate's process, performs the describe handshake,
// and registers it as a capture source.
func (m *Manager) Load(c Candidate) error {
	manifest := c.Manifest

	h, err := startHost(c.Dir, manifest)
	if err != nil {
		pluginLoadFailures.Inc()
		return LoadError{Dir: c.Dir, Reason: err.Error()}
	}

	resp, err := h.describe(m.opts.HandshakeTimeout)
	if err != nil {
		h.shutdown(0)
		pluginLoadFailures.Inc()
		return LoadError{Dir: c.Dir, Reason: fmt.Sprintf("handshake: %v", err)}
	}
	if resp.Name != manifest.Name {
		h.shutdown(m.opts.ShutdownGrace)
		pluginLoadFailures.Inc()
		return LoadError{Dir: c.Dir, Reason: fmt.Sprintf("manifest names %q but plugin identifies as %q", manifest.Name, resp.Name)}
	}

	timeout := manifest.Timeout()
	if timeout <= 0 {
		timeout = m.opts.DefaultCaptureTimeout
	}

	src := &Source{name: manifest.Name, host: h, timeout: timeout}
	desc := capture.Descriptor{
		Name:         manifest.Name,
		Version:      manifest.Version,
		PollInterval: manifest.PollInterval(),
		Timeout:      timeout,
		Enabled:      true,
		LoadOrigin:   c.Dir,
	}

	if err := m.registry.Register(src, desc); err != nil {
		h.shutdown(m.opts.ShutdownGrace)
		pluginLoadFailures.Inc()
		return LoadError{Dir: c.Dir, Reason: fmt.Sprintf("register: %v", err)}
	}

	m.mu.Lock()
	m.loaded[manifest.Name] = &loadedPlugin{candidate: c, host: h}
	m.mu.Unlock()
	pluginsLoaded.Inc()

	logging.Info().
		Str("plugin", manifest.Name).
		Str("version", manifest.Version).
		Str("dir", c.Dir).
		Msg("Plugin loaded")
	return nil
}

// Unload removes the plugin's capture source and terminates its process.
// The process is always gone when Unload returns; a plugin stuck in a
// capture call cannot linger, which is the point of process isolation.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	lp, exists := m.loaded[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("plugin %q not loaded", name)
	}
	delete(m.loaded, name)
	m.mu.Unlock()

	if err := m.registry.Unregister(name); err != nil {
		logging.Warn().Err(err).Str("plugin", name).Msg("Unregister during unload")
	}
	lp.host.shutdown(m.opts.ShutdownGrace)
	pluginsLoaded.Dec()

	logging.Info().Str("plugin", name).Msg("Plugin unloaded")
	return nil
}

// Sync reconciles the loaded set against a scan of root: new plugins are
// loaded, vanished ones unloaded, and plugins whose manifest changed or
// whose process died are unloaded then loaded fresh.
func (m *Manager) Sync(root string) {
	candidates, failures := Scan(root)

	byName := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byName[c.Manifest.Name] = c
	}

	m.mu.Lock()
	var toUnload []string
	var toReload []Candidate
	for name, lp := range m.loaded {
		c, still := byName[name]
		switch {
		case !still:
			toUnload = append(toUnload, name)
		case c.Digest != lp.candidate.Digest:
			toUnload = append(toUnload, name)
			toReload = append(toReload, c)
		case lp.host.dead():
			// The process was killed after a capture timeout or a
			// protocol failure. Restart it even though the manifest
			// is unchanged.
			logging.Warn().Str("plugin", name).Msg("Plugin process dead, restarting")
			toUnload = append(toUnload, name)
			toReload = append(toReload, c)
		}
	}
	loadedNames := make(map[string]bool, len(m.loaded))
	for name := range m.loaded {
		loadedNames[name] = true
	}
	m.mu.Unlock()

	for _, name := range toUnload {
		if err := m.Unload(name); err != nil {
			logging.Warn().Err(err).Str("plugin", name).Msg("Unload during rescan")
		}
	}
	for _, c := range toReload {
		if err := m.Load(c); err != nil {
			failures = append(failures, asLoadError(err))
		}
	}
	for _, c := range candidates {
		if loadedNames[c.Manifest.Name] {
			continue
		}
		if reloaded := containsCandidate(toReload, c.Manifest.Name); reloaded {
			continue
		}
		if err := m.Load(c); err != nil {
			failures = append(failures, asLoadError(err))
		}
	}

	m.mu.Lock()
	m.failures = failures
	m.mu.Unlock()
}

// UnloadAll terminates every loaded plugin, used at agent shutdown.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		if err := m.Unload(name); err != nil {
			logging.Warn().Err(err).Str("plugin", name).Msg("Unload at shutdown")
		}
	}
}

// Loaded reports the currently loaded plugins.
func (m *Manager) Loaded() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, len(m.loaded))
	for _, lp := range m.loaded {
		out = append(out, Status{
			Name:    lp.candidate.Manifest.Name,
			Version: lp.candidate.Manifest.Version,
			Dir:     lp.candidate.Dir,
		})
	}
	return out
}

// Failures reports the load failures from the most recent Sync.
func (m *Manager) Failures() []LoadError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LoadError(nil), m.failures...)
}

func asLoadError(err error) LoadError {
	if le, ok := err.(LoadError); ok {
		return le
	}
	return LoadError{Reason: err.Error()}
}

func containsCandidate(list []Candidate, name string) bool {
	for _, c := range list {
		if c.Manifest.Name == name {
			return true
		}
	}
	return false
}
