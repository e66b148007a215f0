// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// expirySkew renews tokens this long before their actual expiry, so an
// upload never starts with a token about to lapse mid-request.
const expirySkew = 2 * time.Minute

// CredentialConfig tunes agent registration.
type CredentialConfig struct {
	// RegisterEndpoint is the agent registration URL.
	RegisterEndpoint string

	// AgentID is the stable installation identity.
	AgentID string

	// AgentVersion is reported at registration.
	AgentVersion string

	// RequestTimeout bounds one registration round trip.
	RequestTimeout time.Duration
}

// registration is the request body for agent registration.
type registration struct {
	AgentID  string `json:"agent_id"`
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
}

type registrationResponse struct {
	Token string `json:"token"`
}

// CredentialManager registers the agent with the collection service and
// caches the issued bearer token until shortly before its JWT expiry.
// Invalidate drops the cache so the next Token call re-registers, which
// is how the engine recovers from a 401.
type CredentialManager struct {
	cfg  CredentialConfig
	http *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewCredentialManager creates a credential manager.
func NewCredentialManager(cfg CredentialConfig) *CredentialManager {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &CredentialManager{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Token implements TokenSource. It returns the cached token while valid
// and re-registers otherwise.
func (m *CredentialManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && (m.expires.IsZero() || time.Now().Before(m.expires)) {
		return m.token, nil
	}

	token, err := m.register(ctx)
	if err != nil {
		return "", err
	}

	m.token = token
	m.expires = tokenExpiry(token)
	registrationsTotal.Inc()

	logging.Info().
		Str("agent_id", m.cfg.AgentID).
		Time("token_expires", m.expires).
		Msg("Agent registered with collection service")
	return token, nil
}

// Invalidate implements TokenSource.
func (m *CredentialManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expires = time.Time{}
}

func (m *CredentialManager) register(ctx context.Context) (string, error) {
	hostname, _ := os.Hostname()
	body, err := json.Marshal(registration{
		AgentID:  m.cfg.AgentID,
		Hostname: hostname,
		Version:  m.cfg.AgentVersion,
	})
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.RegisterEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("register agent: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("register agent: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read registration response: %w", err)
	}

	var reg registrationResponse
	if err := json.Unmarshal(data, &reg); err != nil {
		return "", fmt.Errorf("decode registration response: %w", err)
	}
	if reg.Token == "" {
		return "", fmt.Errorf("registration response carries no token")
	}
	return reg.Token, nil
}

// tokenExpiry extracts the exp claim without verifying the signature;
// verification is the server's job, the agent only needs to know when to
// renew. Opaque tokens get a zero time, meaning "use until rejected".
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time.Add(-expirySkew)
}
