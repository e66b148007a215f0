// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package api serves the local status endpoint: health, an agent state
// snapshot, and Prometheus metrics. It binds to loopback; this surface
// is for operators and local tooling, not the network.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/orchestrator"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/plugin"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/store"
)

// StatusProvider assembles the agent snapshot served at /status.
type StatusProvider struct {
	Version      string
	StartedAt    time.Time
	StoreStats   func() store.Stats
	Sources      func() []orchestrator.SourceStatus
	SyncState    func() any
	Plugins      func() []plugin.Status
	PluginErrors func() []plugin.LoadError
}

// statusResponse is the /status body.
type statusResponse struct {
	Version       string                      `json:"version"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Store         storeStatus                 `json:"store"`
	Sources       []orchestrator.SourceStatus `json:"sources"`
	Sync          any                         `json:"sync,omitempty"`
	Plugins       []plugin.Status             `json:"plugins"`
	PluginErrors  []plugin.LoadError          `json:"plugin_errors,omitempty"`
}

type storeStatus struct {
	Pending     int64 `json:"pending"`
	Synced      int64 `json:"synced"`
	DBSizeBytes int64 `json:"db_size_bytes"`
}

// Config tunes the status server.
type Config struct {
	// Addr is the listen address, loopback by default.
	Addr string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:9823"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Server is the local status HTTP server.
type Server struct {
	cfg      Config
	provider StatusProvider
	srv      *http.Server
	listener net.Listener
}

// NewServer creates the status server.
func NewServer(cfg Config, provider StatusProvider) *Server {
	cfg.applyDefaults()
	s := &Server{cfg: cfg, provider: provider}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start binds the listener and serves in the background, so a port
// conflict surfaces here rather than in a goroutine.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("Status server failed")
		}
	}()

	logging.Info().Str("addr", ln.Addr().String()).Msg("Status server listening")
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Status server shutdown")
	}
}

// Addr returns the bound address, useful when Addr was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version:       s.provider.Version,
		UptimeSeconds: int64(time.Since(s.provider.StartedAt).Seconds()),
		Sources:       []orchestrator.SourceStatus{},
		Plugins:       []plugin.Status{},
	}
	if s.provider.StoreStats != nil {
		st := s.provider.StoreStats()
		resp.Store = storeStatus{
			Pending:     st.PendingCount,
			Synced:      st.SyncedCount,
			DBSizeBytes: st.DBSizeBytes,
		}
	}
	if s.provider.Sources != nil {
		resp.Sources = s.provider.Sources()
	}
	if s.provider.SyncState != nil {
		resp.Sync = s.provider.SyncState()
	}
	if s.provider.Plugins != nil {
		resp.Plugins = s.provider.Plugins()
	}
	if s.provider.PluginErrors != nil {
		resp.PluginErrors = s.provider.PluginErrors()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Encode status response")
	}
}
