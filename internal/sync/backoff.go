// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"math"
	"time"
)

// calculateBackoff returns the delay before the next attempt after
// `failures` consecutive failures: base * 2^(failures-1), capped at max.
func calculateBackoff(failures int, base, max time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	// 2^50 overflows any sane cap long before this.
	if failures > 50 {
		return max
	}

	backoff := time.Duration(float64(base) * math.Pow(2, float64(failures-1)))
	if backoff < 0 || backoff > max {
		return max
	}
	return backoff
}
