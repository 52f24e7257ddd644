package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/statewal/internal/storage"
)

// SerializedStore composes the raw journal with a caller-supplied
// codec so callers exchange domain objects instead of payload bytes.
// Payloads are encoded immediately before writing and decoded
// immediately after reading; nothing in between interprets them.
type SerializedStore struct {
	store *Store
	codec storage.Codec
}

// NewSerializedStore wraps an open raw store with codec. The wrapper
// and the raw store share the same file, write guard, and transaction
// state.
func NewSerializedStore(store *Store, codec storage.Codec) (*SerializedStore, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	return &SerializedStore{store: store, codec: codec}, nil
}

// OpenSerialized opens the journal at path and wraps it with codec.
func OpenSerialized(path string, codec storage.Codec) (*SerializedStore, error) {
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}
	store, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &SerializedStore{store: store, codec: codec}, nil
}

// Raw returns the underlying raw store.
func (s *SerializedStore) Raw() *Store {
	if s == nil {
		return nil
	}
	return s.store
}

// Close closes the underlying store.
func (s *SerializedStore) Close() error {
	if s == nil {
		return nil
	}
	return s.store.Close()
}

// GetVersion reports the schema version recorded in the store.
func (s *SerializedStore) GetVersion(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("store is not open")
	}
	return s.store.GetVersion(ctx)
}

// SetVersion records v as the schema version.
func (s *SerializedStore) SetVersion(ctx context.Context, v int64) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("store is not open")
	}
	return s.store.SetVersion(ctx, v)
}

// AppendStateChange encodes data and appends it as one state change,
// returning its assigned position.
func (s *SerializedStore) AppendStateChange(ctx context.Context, data any, logTime time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("store is not open")
	}
	payload, err := s.encode(data)
	if err != nil {
		return 0, err
	}
	return s.store.AppendStateChange(ctx, payload, logTime)
}

// AppendSnapshot encodes data and appends it as a snapshot anchored at
// stateChangeID, returning its assigned position.
func (s *SerializedStore) AppendSnapshot(ctx context.Context, stateChangeID int64, data any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("store is not open")
	}
	payload, err := s.encode(data)
	if err != nil {
		return 0, err
	}
	return s.store.AppendSnapshot(ctx, stateChangeID, payload)
}

// AppendEvents encodes each event and appends the batch for the state
// change at stateChangeID. Nothing is written when any event fails to
// encode.
func (s *SerializedStore) AppendEvents(ctx context.Context, stateChangeID int64, logTime time.Time, events []any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.store == nil {
		return fmt.Errorf("store is not open")
	}
	payloads := make([][]byte, 0, len(events))
	for _, event := range events {
		payload, err := s.encode(event)
		if err != nil {
			return err
		}
		payloads = append(payloads, payload)
	}
	return s.store.AppendEvents(ctx, stateChangeID, logTime, payloads)
}

// UpdateSnapshot encodes data and replaces the payload of the snapshot
// at id.
func (s *SerializedStore) UpdateSnapshot(ctx context.Context, id int64, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.store == nil {
		return fmt.Errorf("store is not open")
	}
	payload, err := s.encode(data)
	if err != nil {
		return err
	}
	return s.store.UpdateSnapshot(ctx, id, payload)
}

// CountStateChanges returns the number of stored state changes.
func (s *SerializedStore) CountStateChanges(ctx context.Context) (int64, error) {
	if s == nil || s.store == nil {
		return 0, fmt.Errorf("store is not open")
	}
	return s.store.CountStateChanges(ctx)
}

// GetLatestSnapshot returns the most recently written snapshot with
// its payload decoded.
func (s *SerializedStore) GetLatestSnapshot(ctx context.Context) (storage.SnapshotRecord[any], error) {
	if s == nil || s.store == nil {
		return storage.SnapshotRecord[any]{}, fmt.Errorf("store is not open")
	}
	rec, err := s.store.GetLatestSnapshot(ctx)
	if err != nil {
		return storage.SnapshotRecord[any]{}, err
	}
	return s.decodeSnapshot(rec)
}

// GetSnapshotClosestTo returns the newest snapshot anchored at or
// before target with its payload decoded, or the zero record when no
// snapshot qualifies.
func (s *SerializedStore) GetSnapshotClosestTo(ctx context.Context, target storage.Bound) (storage.SnapshotRecord[any], error) {
	if s == nil || s.store == nil {
		return storage.SnapshotRecord[any]{}, fmt.Errorf("store is not open")
	}
	rec, err := s.store.GetSnapshotClosestTo(ctx, target)
	if err != nil {
		return storage.SnapshotRecord[any]{}, err
	}
	if rec.ID == 0 {
		return storage.SnapshotRecord[any]{}, nil
	}
	return s.decodeSnapshot(rec)
}

// ListStateChanges returns state changes with positions in [from, to],
// ascending, with payloads decoded.
func (s *SerializedStore) ListStateChanges(ctx context.Context, from, to storage.Bound) ([]storage.StateChangeRecord[any], error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("store is not open")
	}
	raw, err := s.store.ListStateChanges(ctx, from, to)
	if err != nil {
		return nil, err
	}
	records := make([]storage.StateChangeRecord[any], 0, len(raw))
	for _, rec := range raw {
		value, err := s.decode(rec.Data)
		if err != nil {
			return nil, err
		}
		records = append(records, storage.StateChangeRecord[any]{ID: rec.ID, Data: value})
	}
	return records, nil
}

// GetLatestStateChangeMatching returns the newest state change whose
// payload satisfies every filter, decoded, or the zero record when
// none match.
func (s *SerializedStore) GetLatestStateChangeMatching(ctx context.Context, filters []storage.FieldFilter) (storage.StateChangeRecord[any], error) {
	if s == nil || s.store == nil {
		return storage.StateChangeRecord[any]{}, fmt.Errorf("store is not open")
	}
	rec, err := s.store.GetLatestStateChangeMatching(ctx, filters)
	if err != nil {
		return storage.StateChangeRecord[any]{}, err
	}
	if rec.ID == 0 {
		return storage.StateChangeRecord[any]{}, nil
	}
	value, err := s.decode(rec.Data)
	if err != nil {
		return storage.StateChangeRecord[any]{}, err
	}
	return storage.StateChangeRecord[any]{ID: rec.ID, Data: value}, nil
}

// GetLatestEventMatching returns the newest event whose payload
// satisfies every filter, decoded, or the zero record when none match.
func (s *SerializedStore) GetLatestEventMatching(ctx context.Context, filters []storage.FieldFilter) (storage.EventRecord[any], error) {
	if s == nil || s.store == nil {
		return storage.EventRecord[any]{}, fmt.Errorf("store is not open")
	}
	rec, err := s.store.GetLatestEventMatching(ctx, filters)
	if err != nil {
		return storage.EventRecord[any]{}, err
	}
	if rec.ID == 0 {
		return storage.EventRecord[any]{}, nil
	}
	value, err := s.decode(rec.Data)
	if err != nil {
		return storage.EventRecord[any]{}, err
	}
	return storage.EventRecord[any]{ID: rec.ID, StateChangeID: rec.StateChangeID, Data: value}, nil
}

// ListEvents returns decoded event payloads ordered by position and
// paged like the raw store's ListEvents.
func (s *SerializedStore) ListEvents(ctx context.Context, limit, offset *int64) ([]any, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("store is not open")
	}
	raw, err := s.store.ListEvents(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	events := make([]any, 0, len(raw))
	for _, data := range raw {
		value, err := s.decode(data)
		if err != nil {
			return nil, err
		}
		events = append(events, value)
	}
	return events, nil
}

// ListEventsWithLogTime returns decoded event payloads paired with
// their capture timestamps.
func (s *SerializedStore) ListEventsWithLogTime(ctx context.Context, limit, offset *int64) ([]storage.TimestampedEvent[any], error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("store is not open")
	}
	raw, err := s.store.ListEventsWithLogTime(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	events := make([]storage.TimestampedEvent[any], 0, len(raw))
	for _, rec := range raw {
		value, err := s.decode(rec.Data)
		if err != nil {
			return nil, err
		}
		events = append(events, storage.TimestampedEvent[any]{Data: value, LogTime: rec.LogTime})
	}
	return events, nil
}

// ListSnapshots returns every stored snapshot with payloads decoded,
// ordered by position.
func (s *SerializedStore) ListSnapshots(ctx context.Context) ([]storage.SnapshotRecord[any], error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("store is not open")
	}
	raw, err := s.store.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]storage.SnapshotRecord[any], 0, len(raw))
	for _, rec := range raw {
		decoded, err := s.decodeSnapshot(rec)
		if err != nil {
			return nil, err
		}
		records = append(records, decoded)
	}
	return records, nil
}

// Transact runs fn inside a single atomic scope. The wrapper handed to
// fn shares this wrapper's codec and is only valid until Transact
// returns.
func (s *SerializedStore) Transact(ctx context.Context, fn func(*SerializedStore) error) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("store is not open")
	}
	if fn == nil {
		return fmt.Errorf("fn is required")
	}
	return s.store.Transact(ctx, func(scoped *Store) error {
		return fn(&SerializedStore{store: scoped, codec: s.codec})
	})
}

func (s *SerializedStore) encode(v any) ([]byte, error) {
	data, err := s.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// decode maps codec failures to corruption: a stored payload that no
// longer decodes means the database content cannot be trusted.
func (s *SerializedStore) decode(data []byte) (any, error) {
	value, err := s.codec.Decode(data)
	if err != nil {
		return nil, &storage.CorruptError{Path: s.store.path, Cause: err}
	}
	return value, nil
}

func (s *SerializedStore) decodeSnapshot(rec storage.SnapshotRecord[[]byte]) (storage.SnapshotRecord[any], error) {
	value, err := s.decode(rec.Data)
	if err != nil {
		return storage.SnapshotRecord[any]{}, err
	}
	return storage.SnapshotRecord[any]{ID: rec.ID, StateChangeID: rec.StateChangeID, Data: value}, nil
}

var _ storage.Journal[any] = (*SerializedStore)(nil)
