package schema

import (
	"encoding/json"
	"fmt"
)

// Payload is a decoded queue item body: a row (full or partial) destined
// for one of the core tables. The table tag determines which column names
// are legal, so malformed bodies are rejected at decode time rather than
// discovered as remote write failures.
type Payload struct {
	Table  string
	ID     string
	Fields map[string]any
}

// EncodePayload serializes a row for storage in the sync queue.
func EncodePayload(fields map[string]any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode queue payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses and validates a queue item body against the remote
// column list for its table. It fails on unknown tables, non-object
// bodies, missing or non-string ids, and columns the table does not have.
// A decode failure marks the item as a permanent poison pill, so the
// checks here are deliberately strict.
func DecodePayload(table string, data []byte) (*Payload, error) {
	cols := RemoteColumns(table)
	if cols == nil {
		return nil, fmt.Errorf("unknown table %q in queue payload", table)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to parse queue payload for %s: %w", table, err)
	}

	id, ok := fields["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("queue payload for %s has no id", table)
	}

	allowed := make(map[string]bool, len(cols))
	for _, c := range cols {
		allowed[c] = true
	}
	for name := range fields {
		if !allowed[name] {
			return nil, fmt.Errorf("queue payload for %s has unknown column %q", table, name)
		}
	}

	return &Payload{Table: table, ID: id, Fields: fields}, nil
}

// UpdateFields returns the payload columns excluding the id, for
// update-by-id dispatch.
func (p *Payload) UpdateFields() map[string]any {
	fields := make(map[string]any, len(p.Fields))
	for name, value := range p.Fields {
		if name == "id" {
			continue
		}
		fields[name] = value
	}
	return fields
}
