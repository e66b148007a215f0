// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package supervisor provides Suture-based process supervision for the
// agent. Components are grouped into layers so that a crashing uplink
// component never takes capture down with it:
//
//	sentinel (root)
//	├── data-layer     (store reaper)
//	├── capture-layer  (orchestrator, plugin rescanner)
//	├── uplink-layer   (sync engine, heartbeat, updater)
//	└── api-layer      (status server)
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is how many failures within the decay window
	// trigger escalation to the parent supervisor.
	FailureThreshold float64

	// FailureDecay is the exponential decay window in seconds.
	FailureDecay float64

	// FailureBackoff is how long a supervisor waits after hitting the
	// threshold before resuming restarts.
	FailureBackoff time.Duration

	// ShutdownTimeout is how long a service gets to stop before it is
	// abandoned.
	ShutdownTimeout time.Duration
}

// Tree is the agent's supervisor hierarchy.
type Tree struct {
	root    *suture.Supervisor
	data    *suture.Supervisor
	capture *suture.Supervisor
	uplink  *suture.Supervisor
	api     *suture.Supervisor

	logger *slog.Logger
	config TreeConfig
}

// NewTree creates the supervisor tree with the given configuration.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// MustHook has a pointer receiver, so the handler needs an address.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	// Child supervisors inherit the EventHook when added to the root.
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("sentinel", rootSpec)
	data := suture.New("data-layer", childSpec)
	capture := suture.New("capture-layer", childSpec)
	uplink := suture.New("uplink-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(data)
	root.Add(capture)
	root.Add(uplink)
	root.Add(api)

	return &Tree{
		root:    root,
		data:    data,
		capture: capture,
		uplink:  uplink,
		api:     api,
		logger:  logger,
		config:  config,
	}
}

// AddDataService adds a service to the data layer. Use this for store
// maintenance such as the retention reaper.
func (t *Tree) AddDataService(svc suture.Service) suture.ServiceToken {
	return t.data.Add(svc)
}

// AddCaptureService adds a service to the capture layer. Use this for
// the orchestrator and the plugin rescanner.
func (t *Tree) AddCaptureService(svc suture.Service) suture.ServiceToken {
	return t.capture.Add(svc)
}

// AddUplinkService adds a service to the uplink layer. Use this for the
// sync engine, heartbeat, and updater.
func (t *Tree) AddUplinkService(svc suture.Service) suture.ServiceToken {
	return t.uplink.Add(svc)
}

// AddAPIService adds a service to the API layer. Use this for the local
// status server.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve starts the supervisor tree and blocks until the context is
// canceled. This is the main entry point for running the agent.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
// The returned channel receives the error (or nil) when the tree stops.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// Remove removes a service from the tree by its token.
func (t *Tree) Remove(token suture.ServiceToken) error {
	return t.root.Remove(token)
}

// UnstoppedServiceReport returns the services that failed to stop within
// the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
