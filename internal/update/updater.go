// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package update implements self-update: poll a release manifest,
// download the artifact, verify its BLAKE3 digest and ed25519 signature,
// and swap the running binary by atomic rename. The previous binary is
// kept beside the new one for rollback.
package update

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/blake3"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// maxArtifactSize bounds one downloaded binary.
const maxArtifactSize = 256 << 20

// Manifest is the published release descriptor.
type Manifest struct {
	Version string `json:"version"`
	URL     string `json:"url"`

	// Digest is the hex BLAKE3-256 of the artifact.
	Digest string `json:"digest"`

	// Signature is the base64 ed25519 signature over the raw digest
	// bytes.
	Signature string `json:"signature"`
}

// Config tunes the updater.
type Config struct {
	// ManifestURL is polled for new releases. Empty disables updates.
	ManifestURL string

	// Interval between manifest polls.
	Interval time.Duration

	// CurrentVersion is the running agent version.
	CurrentVersion string

	// PublicKey is the base64 ed25519 release signing key. Updates are
	// refused without it; an unsigned update channel is worse than
	// none.
	PublicKey string

	// TargetPath is the binary to replace. Empty means the running
	// executable.
	TargetPath string

	// RequestTimeout bounds manifest and artifact requests.
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Minute
	}
}

// Updater polls for releases and applies them. After a successful swap
// it only logs; the supervisor or service manager restarts the agent
// into the new binary.
type Updater struct {
	cfg    Config
	http   *http.Client
	pubKey ed25519.PublicKey

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	applied string
}

// New creates an updater. It fails when the public key is malformed;
// a typo in the key must not silently disable verification.
func New(cfg Config) (*Updater, error) {
	cfg.applyDefaults()

	u := &Updater{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}

	if cfg.ManifestURL != "" {
		if cfg.PublicKey == "" {
			return nil, fmt.Errorf("update channel configured without a signing key")
		}
		key, err := base64.StdEncoding.DecodeString(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("decode update public key: %w", err)
		}
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("update public key has %d bytes, want %d", len(key), ed25519.PublicKeySize)
		}
		u.pubKey = ed25519.PublicKey(key)
	}

	return u, nil
}

// Start launches the poll loop. A nil manifest URL makes Start a no-op.
func (u *Updater) Start(ctx context.Context) error {
	if u.cfg.ManifestURL == "" {
		logging.Debug().Msg("Self-update disabled, no manifest URL")
		return nil
	}

	u.mu.Lock()
	if u.running {
		u.mu.Unlock()
		return nil
	}
	u.running = true
	u.stopChan = make(chan struct{})
	u.mu.Unlock()

	u.wg.Add(1)
	go u.run(ctx)

	logging.Info().Dur("interval", u.cfg.Interval).Msg("Self-update poller started")
	return nil
}

// Stop stops the loop and waits for an in-flight check to finish.
func (u *Updater) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	close(u.stopChan)
	u.mu.Unlock()

	u.wg.Wait()
}

func (u *Updater) run(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.stopChan:
			return
		case <-ticker.C:
			if err := u.Check(ctx); err != nil {
				checkFailures.Inc()
				logging.Warn().Err(err).Msg("Update check failed")
			}
		}
	}
}

// Check fetches the manifest once and applies a newer release if one is
// published.
func (u *Updater) Check(ctx context.Context) error {
	checksTotal.Inc()

	manifest, err := u.fetchManifest(ctx)
	if err != nil {
		return err
	}

	if manifest.Version == "" || manifest.Version == u.cfg.CurrentVersion {
		return nil
	}
	u.mu.Lock()
	alreadyApplied := u.applied == manifest.Version
	u.mu.Unlock()
	if alreadyApplied {
		return nil
	}

	logging.Info().
		Str("current", u.cfg.CurrentVersion).
		Str("available", manifest.Version).
		Msg("Update available")

	if err := u.apply(ctx, manifest); err != nil {
		return fmt.Errorf("apply %s: %w", manifest.Version, err)
	}

	u.mu.Lock()
	u.applied = manifest.Version
	u.mu.Unlock()
	updatesApplied.Inc()

	logging.Info().
		Str("version", manifest.Version).
		Msg("Update staged; new binary takes effect on next restart")
	return nil
}

func (u *Updater) fetchManifest(ctx context.Context) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.ManifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// apply downloads, verifies, and swaps in the artifact.
func (u *Updater) apply(ctx context.Context, m *Manifest) error {
	artifact, err := u.download(ctx, m.URL)
	if err != nil {
		return err
	}

	if err := u.verify(artifact, m); err != nil {
		return err
	}

	target := u.cfg.TargetPath
	if target == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		target = exe
	}
	return swapBinary(target, artifact)
}

func (u *Updater) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build artifact request: %w", err)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download artifact: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// verify checks the BLAKE3 digest and the ed25519 signature over that
// digest. Both must hold; a correct digest with a bad signature means a
// tampered manifest, not a corrupt download.
func (u *Updater) verify(artifact []byte, m *Manifest) error {
	sum := blake3.Sum256(artifact)
	digest := sum[:]

	want, err := hex.DecodeString(m.Digest)
	if err != nil {
		return fmt.Errorf("manifest digest is not hex: %w", err)
	}
	if !bytes.Equal(want, digest) {
		return fmt.Errorf("artifact digest mismatch")
	}

	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("manifest signature is not base64: %w", err)
	}
	if !ed25519.Verify(u.pubKey, digest, sig) {
		return fmt.Errorf("artifact signature verification failed")
	}
	return nil
}

// swapBinary stages the new binary next to target and renames it into
// place, keeping the previous binary as target.old for rollback. Rename
// within one directory is atomic; a crash mid-swap leaves either the old
// or the new binary at target, never a torn file.
func swapBinary(target string, artifact []byte) error {
	dir := filepath.Dir(target)
	staged := target + ".new"
	backup := target + ".old"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	if err := os.WriteFile(staged, artifact, 0o755); err != nil {
		return fmt.Errorf("stage binary: %w", err)
	}

	_ = os.Remove(backup)
	if err := os.Rename(target, backup); err != nil && !os.IsNotExist(err) {
		_ = os.Remove(staged)
		return fmt.Errorf("back up current binary: %w", err)
	}

	if err := os.Rename(staged, target); err != nil {
		// Roll the previous binary back into place.
		if rbErr := os.Rename(backup, target); rbErr != nil {
			return fmt.Errorf("activate binary: %w (rollback also failed: %v)", err, rbErr)
		}
		return fmt.Errorf("activate binary: %w (rolled back)", err)
	}
	return nil
}
