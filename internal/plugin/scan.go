// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/logging"
)

// Candidate is one loadable plugin directory found by a scan.
type Candidate struct {
	Dir      string
	Manifest *Manifest

	// Digest fingerprints the manifest content; a changed digest means
	// the plugin must be reloaded.
	Digest string
}

// Scan walks the plugin root and returns the loadable candidates plus a
// LoadError per directory that could not be read. A missing root is not
// an error; it simply yields no candidates.
func Scan(root string) ([]Candidate, []LoadError) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, []LoadError{{Dir: root, Reason: err.Error()}}
	}

	var candidates []Candidate
	var failures []LoadError

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())

		manifest, err := ReadManifest(dir)
		if err != nil {
			failures = append(failures, LoadError{Dir: dir, Reason: err.Error()})
			logging.Warn().Err(err).Str("dir", dir).Msg("Skipping plugin directory")
			continue
		}

		digest, err := manifestDigest(dir)
		if err != nil {
			failures = append(failures, LoadError{Dir: dir, Reason: err.Error()})
			continue
		}

		candidates = append(candidates, Candidate{
			Dir:      dir,
			Manifest: manifest,
			Digest:   digest,
		})
	}

	return candidates, failures
}

// manifestDigest is the BLAKE3 fingerprint of the manifest file.
func manifestDigest(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return "", fmt.Errorf("digest manifest: %w", err)
	}
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}
