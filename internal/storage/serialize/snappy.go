package serialize

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/louisbranch/statewal/internal/storage"
)

// Snappy wraps another codec with snappy block compression, for
// snapshot-heavy stores where payload size dominates write cost.
// Compressed payloads are opaque to the SQL JSON functions, so a store
// written with this codec cannot serve field-filter queries.
type Snappy struct {
	Inner storage.Codec
}

// Encode encodes with the inner codec and compresses the result.
func (c Snappy) Encode(v any) ([]byte, error) {
	if c.Inner == nil {
		return nil, fmt.Errorf("inner codec is required")
	}
	data, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

// Decode decompresses and decodes with the inner codec.
func (c Snappy) Decode(data []byte) (any, error) {
	if c.Inner == nil {
		return nil, fmt.Errorf("inner codec is required")
	}
	plain, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return c.Inner.Decode(plain)
}

var _ storage.Codec = Snappy{}
