// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

type staticTokens struct {
	mu          gosync.Mutex
	token       string
	invalidated int
}

func (s *staticTokens) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *staticTokens) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

func makeBatch(ids ...uint64) []event.StoredEvent {
	batch := make([]event.StoredEvent, len(ids))
	for i, id := range ids {
		batch[i] = event.StoredEvent{
			Event:   event.New(event.KindBrowserURL),
			LocalID: id,
			State:   event.SyncPending,
		}
	}
	return batch
}

func TestClientUploadsNDJSONWithAuth(t *testing.T) {
	var gotContentType, gotAuth string
	var gotLines []event.StoredEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")

		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var se event.StoredEvent
			if err := json.Unmarshal(scanner.Bytes(), &se); err != nil {
				t.Errorf("bad NDJSON line: %v", err)
				continue
			}
			gotLines = append(gotLines, se)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, &staticTokens{token: "tok-123"})
	result, err := c.Upload(context.Background(), makeBatch(1, 2, 3))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if gotContentType != ndjsonContentType {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if len(gotLines) != 3 {
		t.Fatalf("server received %d lines, want 3", len(gotLines))
	}
	if gotLines[1].LocalID != 2 || gotLines[1].EventID == "" {
		t.Errorf("line 2 = %+v", gotLines[1])
	}

	// An empty 2xx body means the whole batch was accepted.
	if len(result.Accepted) != 3 || len(result.Rejected) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestClientPartialAcknowledgment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"accepted": 2, "rejected": 1,
			"accepted_ids": [1, 3, 999],
			"rejected_ids": [2, 888]
		}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, nil)
	result, err := c.Upload(context.Background(), makeBatch(1, 2, 3))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// 999 and 888 were never in the batch and must be ignored.
	if len(result.Accepted) != 2 || result.Accepted[0] != 1 || result.Accepted[1] != 3 {
		t.Errorf("accepted = %v, want [1 3]", result.Accepted)
	}
	if len(result.Rejected) != 1 || result.Rejected[0] != 2 {
		t.Errorf("rejected = %v, want [2]", result.Rejected)
	}
}

func TestClientStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusTooManyRequests, ErrTransient},
		{http.StatusUnauthorized, ErrAuthentication},
		{http.StatusForbidden, ErrAuthentication},
		{http.StatusBadRequest, ErrPermanentRejection},
		{http.StatusUnprocessableEntity, ErrPermanentRejection},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		c := NewClient(ClientConfig{Endpoint: srv.URL}, nil)
		_, err := c.Upload(context.Background(), makeBatch(1))
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestClientInvalidatesTokensOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "stale"}
	c := NewClient(ClientConfig{Endpoint: srv.URL}, tokens)

	_, err := c.Upload(context.Background(), makeBatch(1))
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}

	tokens.mu.Lock()
	defer tokens.mu.Unlock()
	if tokens.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", tokens.invalidated)
	}
}

func TestClientCircuitBreakerOpensAndFailsFast(t *testing.T) {
	var mu gosync.Mutex
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, nil)

	// Trip the breaker.
	for i := 0; i < 5; i++ {
		if _, err := c.Upload(context.Background(), makeBatch(1)); !errors.Is(err, ErrTransient) {
			t.Fatalf("attempt %d: err = %v, want transient", i, err)
		}
	}

	mu.Lock()
	tripped := requests
	mu.Unlock()

	// The open breaker short-circuits without touching the server.
	_, err := c.Upload(context.Background(), makeBatch(1))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("open breaker err = %v, want transient", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != tripped {
		t.Error("request reached the server while the breaker was open")
	}
}
