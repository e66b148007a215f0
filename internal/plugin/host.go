// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// Stdio protocol: the host writes one request object per line to the
// plugin's stdin and reads one response object per line from its stdout.
// Anything the plugin writes to stderr is logged verbatim.
type request struct {
	Op string `json:"op"`
}

type response struct {
	OK     bool          `json:"ok"`
	Error  string        `json:"error,omitempty"`
	Events []event.Event `json:"events,omitempty"`

	// Describe fields.
	Name            string `json:"name,omitempty"`
	Version         string `json:"version,omitempty"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`
}

const (
	opDescribe = "describe"
	opCapture  = "capture"
	opShutdown = "shutdown"
)

// ErrHostClosed is returned for requests against a terminated plugin
// process.
var ErrHostClosed = errors.New("plugin process terminated")

// maxResponseLine bounds one response line; a plugin flooding stdout is
// killed, not buffered.
const maxResponseLine = 4 << 20

// host owns one running plugin process and serializes requests to it.
type host struct {
	name string
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	stdout *bufio.Scanner

	mu     sync.Mutex
	closed bool
	waitCh chan error
}

// startHost launches the plugin's entry point with the plugin directory
// as working directory.
func startHost(dir string, m *Manifest) (*host, error) {
	entry := filepath.Join(dir, m.EntryPoint)

	cmd := exec.Command(entry)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", entry, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxResponseLine)

	h := &host{
		name:   m.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: scanner,
		waitCh: make(chan error, 1),
	}

	go h.drainStderr(stderr)
	go func() { h.waitCh <- cmd.Wait() }()

	return h, nil
}

// drainStderr forwards plugin stderr lines into the agent log.
func (h *host) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logging.Debug().Str("plugin", h.name).Str("stderr", scanner.Text()).Msg("Plugin output")
	}
}

// roundTrip sends one request and reads one response, bounded by timeout.
// Any protocol failure is terminal for the process: the host kills it so
// request and response framing can never get out of step.
func (h *host) roundTrip(op string, timeout time.Duration) (*response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHostClosed
	}

	line, err := json.Marshal(request{Op: op})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')

	type readResult struct {
		resp *response
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		if _, err := h.stdin.Write(line); err != nil {
			ch <- readResult{err: fmt.Errorf("write request: %w", err)}
			return
		}
		if !h.stdout.Scan() {
			err := h.stdout.Err()
			if err == nil {
				err = io.EOF
			}
			ch <- readResult{err: fmt.Errorf("read response: %w", err)}
			return
		}
		var resp response
		if err := json.Unmarshal(h.stdout.Bytes(), &resp); err != nil {
			ch <- readResult{err: fmt.Errorf("decode response: %w", err)}
			return
		}
		ch <- readResult{resp: &resp}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			h.killLocked()
			return nil, res.err
		}
		if !res.resp.OK {
			return nil, fmt.Errorf("plugin error: %s", res.resp.Error)
		}
		return res.resp, nil
	case <-timer.C:
		h.killLocked()
		return nil, fmt.Errorf("plugin %s: %s timed out after %s", h.name, op, timeout)
	}
}

// describe performs the load-time handshake.
func (h *host) describe(timeout time.Duration) (*response, error) {
	return h.roundTrip(opDescribe, timeout)
}

// capture requests one batch of events.
func (h *host) capture(timeout time.Duration) ([]event.Event, error) {
	resp, err := h.roundTrip(opCapture, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// shutdown asks the plugin to exit, then kills it if it does not comply
// within grace.
func (h *host) shutdown(grace time.Duration) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true

	if line, err := json.Marshal(request{Op: opShutdown}); err == nil {
		_, _ = h.stdin.Write(append(line, '\n'))
	}
	_ = h.stdin.Close()
	h.mu.Unlock()

	select {
	case <-h.waitCh:
	case <-time.After(grace):
		_ = h.cmd.Process.Kill()
		<-h.waitCh
		logging.Warn().Str("plugin", h.name).Msg("Plugin ignored shutdown, killed")
	}
}

// dead reports whether the plugin process has been terminated, either
// by a protocol failure or a capture timeout. A dead host rejects every
// request until the manager reloads the plugin.
func (h *host) dead() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// killLocked force-terminates the process. Caller holds h.mu.
func (h *host) killLocked() {
	if h.closed {
		return
	}
	h.closed = true
	_ = h.stdin.Close()
	_ = h.cmd.Process.Kill()
	go func() { <-h.waitCh }()
}
