// Sentinel Monitor - Workstation Activity Monitoring Agent
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"bufio"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// WriteNDJSON writes events to w as newline-delimited JSON, one
// self-describing record per line. This is the wire format of the batch
// upload to the collection service.
func WriteNDJSON(w io.Writer, events []StoredEvent) error {
	enc := json.NewEncoder(w)
	for i := range events {
		// Encoder appends the trailing newline per record.
		if err := enc.Encode(&events[i]); err != nil {
			return fmt.Errorf("encode event %s: %w", events[i].EventID, err)
		}
	}
	return nil
}

// ReadNDJSON decodes newline-delimited JSON events from r. Used by tests
// and by the plugin host protocol, which frames event batches the same way
// as the upload path.
func ReadNDJSON(r io.Reader) ([]StoredEvent, error) {
	var events []StoredEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev StoredEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode event line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ndjson stream: %w", err)
	}
	return events, nil
}
