// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the Sentinel Monitor agent.
//
// Sentinel Monitor is a background agent that records workstation
// activity (window focus, browser URLs, conference status, process
// lifecycle, optional screenshots) into a durable local store and
// drains it to a central collection service with at-least-once
// delivery. Capture never waits for the network: events are persisted
// locally first and uploaded by an independent sync engine.
//
// # Application Architecture
//
// The agent initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 loading (defaults, YAML file, env)
//  2. Event store: BadgerDB-backed durable store (fatal if unavailable)
//  3. Orchestrator: built-in capture trackers on independent schedules
//  4. Plugin manager: out-of-process capture sources from the plugin root
//  5. Sync: agent registration, batch upload engine, heartbeat
//  6. Updater: signed self-update polling (optional)
//  7. Status server: loopback HTTP with /healthz, /status, /metrics
//
// Everything runs under a Suture supervisor tree split into layers, so a
// crashing uplink component never takes capture down with it.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - SENTINEL_* environment variables
//   - Config file (sentinel.yaml, or SENTINEL_CONFIG_PATH)
//   - Built-in defaults
//
// A minimal deployment needs only the collection endpoints:
//
//	export SENTINEL_SYNC_ENDPOINT=https://collector.example.com/v1/events
//	export SENTINEL_SYNC_REGISTER_ENDPOINT=https://collector.example.com/v1/register
//	./sentinel-agent
//
// # Signal Handling
//
// The agent shuts down gracefully on SIGINT and SIGTERM: capture stops,
// plugin processes are terminated, in-flight uploads finish, and the
// store is closed cleanly. Unsynced events survive in the store and are
// uploaded on the next start.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/api"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/capture"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/config"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/orchestrator"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/plugin"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/store"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/supervisor"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/supervisor/services"
	syncpkg "github.com/alexandre-henzen/sentinel-monitor-sub001/internal/sync"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/update"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Default logger; config is not available yet.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", Version).
		Str("store_path", cfg.Store.Path).
		Bool("sync_enabled", cfg.Sync.Endpoint != "").
		Msg("Starting Sentinel Monitor agent")

	agentID, err := resolveAgentID(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to resolve agent identity")
	}
	logging.Info().Str("agent_id", agentID).Msg("Agent identity resolved")

	// The store is the one component the agent cannot run without. A
	// locked or corrupt database means another instance is running or
	// the data dir is damaged; both need an operator.
	st, err := store.Open(storeConfig(cfg))
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("Failed to open event store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event store")
		}
	}()

	orch := orchestrator.New(st, nil, orchestrator.Options{})
	registerTrackers(orch, cfg)

	pluginMgr := plugin.NewManager(orch, plugin.Options{})
	var rescanner *plugin.Rescanner
	if cfg.Plugins.Directory != "" {
		rescanner = plugin.NewRescanner(pluginMgr, cfg.Plugins.Directory, cfg.Plugins.RescanInterval)
	}
	defer pluginMgr.UnloadAll()

	var tokens syncpkg.TokenSource
	if cfg.Sync.RegisterEndpoint != "" {
		tokens = syncpkg.NewCredentialManager(syncpkg.CredentialConfig{
			RegisterEndpoint: cfg.Sync.RegisterEndpoint,
			AgentID:          agentID,
			AgentVersion:     Version,
		})
	}

	var engine *syncpkg.Engine
	var heartbeat *syncpkg.Heartbeat
	if cfg.Sync.Endpoint != "" {
		client := syncpkg.NewClient(syncpkg.ClientConfig{
			Endpoint:       cfg.Sync.Endpoint,
			RequestTimeout: cfg.Sync.RequestTimeout,
			RatePerSecond:  cfg.Sync.RatePerSecond,
		}, tokens)
		engine = syncpkg.NewEngine(st, client, syncpkg.EngineConfig{
			Interval:     cfg.Sync.Interval,
			BatchSize:    cfg.Sync.BatchSize,
			RetryBackoff: cfg.Sync.RetryBackoff,
			MaxBackoff:   cfg.Sync.MaxBackoff,
		})
	} else {
		logging.Warn().Msg("Sync endpoint not configured, events accumulate locally")
	}
	if cfg.Sync.HeartbeatEndpoint != "" {
		heartbeat = syncpkg.NewHeartbeat(syncpkg.HeartbeatConfig{
			Endpoint:     cfg.Sync.HeartbeatEndpoint,
			Interval:     cfg.Sync.HeartbeatInterval,
			AgentID:      agentID,
			AgentVersion: Version,
		}, tokens, st)
	}

	updater, err := update.New(update.Config{
		ManifestURL:    cfg.Update.ManifestURL,
		Interval:       cfg.Update.Interval,
		CurrentVersion: Version,
		PublicKey:      cfg.Update.PublicKey,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid update configuration")
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{})

	tree.AddDataService(services.NewComponentService("store-reaper", store.NewReaper(st)))
	tree.AddCaptureService(services.NewComponentService("orchestrator", orch))
	if rescanner != nil {
		tree.AddCaptureService(services.NewComponentService("plugin-rescanner", rescanner))
	}
	if engine != nil {
		tree.AddUplinkService(services.NewComponentService("sync-engine", engine))
	}
	if heartbeat != nil {
		tree.AddUplinkService(services.NewComponentService("heartbeat", heartbeat))
	}
	if cfg.Update.ManifestURL != "" {
		tree.AddUplinkService(services.NewComponentService("updater", updater))
	}
	if cfg.Server.Enabled {
		srv := api.NewServer(api.Config{Addr: cfg.Server.Addr}, statusProvider(orch, engine, pluginMgr, st))
		tree.AddAPIService(services.NewComponentService("status-server", srv))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Agent stopped gracefully")
}

// resolveAgentID returns the stable installation identity. Configured
// values win; otherwise the persisted ID file is used, generating and
// writing a fresh UUID on first run.
func resolveAgentID(cfg *config.Config) (string, error) {
	if cfg.Agent.ID != "" {
		return cfg.Agent.ID, nil
	}

	path := cfg.Agent.IDFile
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	logging.Info().Str("path", path).Msg("Generated new agent identity")
	return id, nil
}

// storeConfig merges the agent's store settings over the store defaults.
func storeConfig(cfg *config.Config) store.Config {
	sc := store.DefaultConfig()
	sc.Path = cfg.Store.Path
	sc.SyncWrites = cfg.Store.SyncWrites
	sc.Retention = cfg.Store.Retention
	sc.ReapInterval = cfg.Store.ReapInterval
	return sc
}

// registerTrackers wires the built-in capture sources. The platform
// probes default to the inert fallbacks; desktop-specific probe
// implementations register themselves via build tags or ship as
// plugins.
func registerTrackers(orch *orchestrator.Orchestrator, cfg *config.Config) {
	type builtin struct {
		src  capture.Source
		conf config.TrackerConfig
	}

	builtins := []builtin{
		{capture.NewWindowTracker(capture.UnavailableWindowProbe{}), cfg.Trackers.Window},
		{capture.NewBrowserTracker(capture.UnavailableURLProbe{}), cfg.Trackers.Browser},
		{capture.NewProcessTracker(nil), cfg.Trackers.Process},
		{capture.NewConferenceTracker(nil, cfg.Trackers.ConferenceProcesses), cfg.Trackers.Conference},
		{
			capture.NewScreenshotTracker(capture.UnavailableGrabber{}, cfg.Trackers.SpoolDir, cfg.Trackers.ScreenshotInterval),
			cfg.Trackers.Screenshot,
		},
	}

	for _, b := range builtins {
		desc := capture.Descriptor{
			Name:         b.src.Name(),
			Version:      Version,
			PollInterval: b.conf.PollInterval,
			Timeout:      b.conf.Timeout,
			Enabled:      b.conf.Enabled,
		}
		if err := orch.Register(b.src, desc); err != nil {
			logging.Warn().Err(err).Str("source", b.src.Name()).Msg("Failed to register tracker")
		}
	}
}

// statusProvider assembles the closures the status server reads from.
// Nil components report as absent rather than breaking /status.
func statusProvider(
	orch *orchestrator.Orchestrator,
	engine *syncpkg.Engine,
	pluginMgr *plugin.Manager,
	st *store.Store,
) api.StatusProvider {
	provider := api.StatusProvider{
		Version:      Version,
		StartedAt:    time.Now(),
		StoreStats:   st.Stats,
		Sources:      orch.Snapshot,
		Plugins:      pluginMgr.Loaded,
		PluginErrors: pluginMgr.Failures,
	}
	if engine != nil {
		provider.SyncState = func() any { return engine.Snapshot() }
	}
	return provider
}
