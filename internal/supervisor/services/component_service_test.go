// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

// fakeComponent records its lifecycle transitions.
type fakeComponent struct {
	startErr error
	started  atomic.Int64
	stopped  atomic.Int64
}

func (f *fakeComponent) Start(_ context.Context) error {
	f.started.Add(1)
	return f.startErr
}

func (f *fakeComponent) Stop() {
	f.stopped.Add(1)
}

func TestComponentServiceImplementsSutureService(t *testing.T) {
	var _ suture.Service = (*ComponentService)(nil)
}

func TestComponentServiceLifecycle(t *testing.T) {
	comp := &fakeComponent{}
	svc := NewComponentService("test-component", comp)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for comp.started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("component never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if comp.stopped.Load() != 0 {
		t.Fatal("component stopped before cancellation")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if comp.stopped.Load() != 1 {
		t.Errorf("stop count = %d, want 1", comp.stopped.Load())
	}
}

func TestComponentServiceStartFailure(t *testing.T) {
	comp := &fakeComponent{startErr: errors.New("bind refused")}
	svc := NewComponentService("broken", comp)

	err := svc.Serve(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "broken") || !strings.Contains(err.Error(), "bind refused") {
		t.Errorf("error = %q, want service name and cause", err)
	}
	if comp.stopped.Load() != 0 {
		t.Error("Stop should not be called when Start fails")
	}
}

func TestComponentServiceRestartsUnderSupervision(t *testing.T) {
	comp := &fakeComponent{}
	svc := NewComponentService("supervised", comp)

	sup := suture.New("test-sup", suture.Spec{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          time.Second,
	})
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for comp.started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("supervised component never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	if comp.stopped.Load() == 0 {
		t.Error("component was not stopped on shutdown")
	}
}

func TestComponentServiceString(t *testing.T) {
	svc := NewComponentService("sync-engine", &fakeComponent{})
	if svc.String() != "sync-engine" {
		t.Errorf("String() = %q", svc.String())
	}
}
