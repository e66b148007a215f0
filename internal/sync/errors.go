// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

// Package sync reconciles the durable store with the remote collection
// service: it drains pending events in bounded batches, uploads them as
// newline-delimited JSON, and marks exactly the acknowledged ids synced.
// Connectivity is assumed unreliable; everything here retries.
package sync

import "errors"

var (
	// ErrTransient marks failures worth retrying: network errors,
	// timeouts, 5xx responses, an open circuit breaker.
	ErrTransient = errors.New("transient sync failure")

	// ErrAuthentication marks a 401/403; the engine re-acquires
	// credentials and retries.
	ErrAuthentication = errors.New("sync authentication failed")

	// ErrPermanentRejection marks a payload the server refuses as
	// malformed. The batch is dropped rather than retried forever;
	// this is the one accepted data-loss path.
	ErrPermanentRejection = errors.New("payload permanently rejected")
)
