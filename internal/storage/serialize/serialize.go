// Package serialize provides Codec implementations for the journal's
// serialization boundary.
package serialize

import (
	"encoding/json"
	"fmt"

	"github.com/louisbranch/statewal/internal/storage"
)

// JSON encodes domain objects as JSON text. It is the default codec:
// field-filter queries inspect stored payloads with the SQL JSON
// functions, which require payloads to be JSON.
type JSON struct{}

// Encode marshals v to JSON.
func (JSON) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json payload: %w", err)
	}
	return data, nil
}

// Decode unmarshals JSON into generic Go values: objects become
// map[string]any, arrays []any, numbers float64.
func (JSON) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode json payload: %w", err)
	}
	return v, nil
}

var _ storage.Codec = JSON{}
