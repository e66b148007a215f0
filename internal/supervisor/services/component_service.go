// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package services adapts the agent's Start/Stop components to the
// suture.Service interface so they can run under supervision.
package services

import (
	"context"
	"fmt"
)

// Component is the lifecycle every supervised agent component exposes.
//
// Start launches background work and returns promptly; Stop blocks
// until the work has wound down. Satisfied by the orchestrator, the
// sync engine, the heartbeat, the plugin rescanner, the store reaper,
// the updater, and the status server.
type Component interface {
	Start(ctx context.Context) error
	Stop()
}

// ComponentService wraps a Start/Stop component as a supervised
// service. Serve starts the component, blocks until the context is
// canceled, then stops it. A Start failure is returned to suture, which
// applies its restart policy.
type ComponentService struct {
	component Component
	name      string
}

// NewComponentService creates a supervised wrapper around component.
// The name identifies the service in supervisor logs.
func NewComponentService(name string, component Component) *ComponentService {
	return &ComponentService{
		component: component,
		name:      name,
	}
}

// Serve implements suture.Service.
func (c *ComponentService) Serve(ctx context.Context) error {
	if err := c.component.Start(ctx); err != nil {
		return fmt.Errorf("%s failed to start: %w", c.name, err)
	}

	<-ctx.Done()

	c.component.Stop()
	return ctx.Err()
}

// String implements fmt.Stringer. Suture uses this to identify the
// service in log messages.
func (c *ComponentService) String() string {
	return c.name
}
