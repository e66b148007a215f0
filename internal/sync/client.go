// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

const ndjsonContentType = "application/x-ndjson"

// TokenSource supplies the bearer token for upload requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// UploadResult is the server's acknowledgment of one batch.
type UploadResult struct {
	// Accepted holds the local ids the server acknowledged. These and
	// only these may be marked synced.
	Accepted []uint64

	// Rejected holds local ids the server refused individually. They
	// stay pending and ride along on the next cycle.
	Rejected []uint64
}

// uploadResponse is the wire shape of the server acknowledgment.
type uploadResponse struct {
	Accepted    int      `json:"accepted"`
	Rejected    int      `json:"rejected"`
	AcceptedIDs []uint64 `json:"accepted_ids"`
	RejectedIDs []uint64 `json:"rejected_ids"`
}

// ClientConfig tunes the upload client.
type ClientConfig struct {
	// Endpoint is the batch ingestion URL.
	Endpoint string

	// RequestTimeout bounds one upload round trip. Deliberately much
	// larger than capture poll timeouts; a batch can be megabytes on a
	// bad uplink.
	RequestTimeout time.Duration

	// RatePerSecond caps outbound upload requests. Zero disables
	// limiting.
	RatePerSecond float64

	// RateBurst is the limiter burst, minimum 1.
	RateBurst int

	// BreakerTimeout is how long the circuit stays open before a
	// half-open probe.
	BreakerTimeout time.Duration

	// BreakerFailures is the consecutive-failure count that opens the
	// circuit.
	BreakerFailures uint32
}

func (c *ClientConfig) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.RateBurst < 1 {
		c.RateBurst = 1
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
}

// Client uploads event batches over HTTP. A circuit breaker sits in
// front of the endpoint so a dead uplink fails fast instead of burning a
// full request timeout every cycle, and a rate limiter caps how hard the
// agent can hit the service when draining a large backlog.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	tokens  TokenSource
	breaker *gobreaker.CircuitBreaker[*UploadResult]
	limiter *rate.Limiter
}

// NewClient creates an upload client. tokens may be nil for endpoints
// without authentication.
func NewClient(cfg ClientConfig, tokens TokenSource) *Client {
	cfg.applyDefaults()

	c := &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
	}

	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*UploadResult](gobreaker.Settings{
		Name:        "sync-upload",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Upload circuit breaker state change")
			breakerState.Set(stateToFloat(to))
		},
		IsSuccessful: func(err error) bool {
			// Only transient failures count against the breaker;
			// an auth failure or a malformed payload says nothing
			// about endpoint health.
			return err == nil || !errors.Is(err, ErrTransient)
		},
	})

	return c
}

// Upload submits one batch as newline-delimited JSON and returns the ids
// the server accepted and rejected. The error, when non-nil, wraps one
// of the package sentinels.
func (c *Client) Upload(ctx context.Context, batch []event.StoredEvent) (*UploadResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}

	result, err := c.breaker.Execute(func() (*UploadResult, error) {
		return c.upload(ctx, batch)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker open", ErrTransient)
	}
	return result, err
}

func (c *Client) upload(ctx context.Context, batch []event.StoredEvent) (*UploadResult, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return nil, fmt.Errorf("encode batch: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", ndjsonContentType)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return c.parseAck(resp.Body, batch)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if c.tokens != nil {
			c.tokens.Invalidate()
		}
		return nil, fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status %d", ErrPermanentRejection, resp.StatusCode)
	default:
		// 429, 5xx, and anything unexpected: retryable.
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
}

// parseAck decodes the acknowledgment. A 2xx with rejected records is
// partial success, not an error. Servers that acknowledge without
// listing ids accept the whole batch.
func (c *Client) parseAck(r io.Reader, batch []event.StoredEvent) (*UploadResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read ack: %v", ErrTransient, err)
	}

	var ack uploadResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ack); err != nil {
			return nil, fmt.Errorf("%w: decode ack: %v", ErrTransient, err)
		}
	}

	if len(ack.AcceptedIDs) == 0 && ack.Rejected == 0 {
		// Whole batch accepted.
		accepted := make([]uint64, len(batch))
		for i := range batch {
			accepted[i] = batch[i].LocalID
		}
		return &UploadResult{Accepted: accepted}, nil
	}

	// Trust only ids that were actually in this batch; a confused
	// server must not cause mark_synced on ids it was never sent.
	sent := make(map[uint64]bool, len(batch))
	for i := range batch {
		sent[batch[i].LocalID] = true
	}

	result := &UploadResult{}
	for _, id := range ack.AcceptedIDs {
		if sent[id] {
			result.Accepted = append(result.Accepted, id)
		}
	}
	for _, id := range ack.RejectedIDs {
		if sent[id] {
			result.Rejected = append(result.Rejected, id)
		}
	}
	return result, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
