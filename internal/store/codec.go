// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/alexandre-henzen/sentinel-monitor-sub001/internal/event"
)

func marshalStored(se *event.StoredEvent) ([]byte, error) {
	data, err := json.Marshal(se)
	if err != nil {
		return nil, fmt.Errorf("marshal stored event %d: %w", se.LocalID, err)
	}
	return data, nil
}

func unmarshalStored(data []byte, se *event.StoredEvent) error {
	if err := json.Unmarshal(data, se); err != nil {
		return fmt.Errorf("unmarshal stored event: %w", err)
	}
	return nil
}
