// Package storage defines persistence contracts for the state-change
// journal: record shapes, query bounds and filters, the codec boundary,
// and the error surface shared by the raw and serialized layers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrInvalidArgument indicates a caller-supplied bound, filter, or page
// parameter is malformed. The failing call has no side effect.
var ErrInvalidArgument = errors.New("invalid argument")

// CorruptError reports an unusable database: the file failed durability
// configuration or schema application at open, or a stored row that must
// decode cleanly did not. It is fatal; the store must not be used.
type CorruptError struct {
	Path  string
	Cause error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("database %s is corrupt (manual intervention required): %v", e.Path, e.Cause)
}

func (e *CorruptError) Unwrap() error { return e.Cause }

// StateChangeRecord is one appended state transition. Positions are
// assigned by the store, strictly increasing, and never reused.
type StateChangeRecord[P any] struct {
	ID   int64
	Data P
}

// SnapshotRecord is one stored checkpoint of full state.
// StateChangeID is the position of the last state change folded into the
// snapshot; 0 means the snapshot captures the initial state, before any
// state change was applied.
type SnapshotRecord[P any] struct {
	ID            int64
	StateChangeID int64
	Data          P
}

// EventRecord is one side effect emitted while applying the state change
// at StateChangeID.
type EventRecord[P any] struct {
	ID            int64
	StateChangeID int64
	Data          P
}

// TimestampedEvent pairs an event payload with its write time.
type TimestampedEvent[P any] struct {
	Data    P
	LogTime time.Time
}

// RunRecord records one process run against the store, for diagnostics.
type RunRecord struct {
	ID        int64
	Version   string
	StartedAt time.Time
}

// Codec translates domain objects to and from stored payload bytes. It
// is supplied by the caller; the serialized journal layer applies it to
// every payload crossing the storage boundary.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Journal is the full journal operation set over payloads of form P.
// The raw engine implements Journal[[]byte]; composing it with a Codec
// yields a Journal[any] over domain objects. Callers can be handed
// either.
//
// The matching and closest-to queries return the zero record, not
// ErrNotFound, when nothing qualifies; a real record always has ID >= 1.
type Journal[P any] interface {
	AppendStateChange(ctx context.Context, data P, logTime time.Time) (int64, error)
	AppendSnapshot(ctx context.Context, stateChangeID int64, data P) (int64, error)
	AppendEvents(ctx context.Context, stateChangeID int64, logTime time.Time, events []P) error
	UpdateSnapshot(ctx context.Context, id int64, data P) error

	CountStateChanges(ctx context.Context) (int64, error)
	GetLatestSnapshot(ctx context.Context) (SnapshotRecord[P], error)
	GetSnapshotClosestTo(ctx context.Context, target Bound) (SnapshotRecord[P], error)
	ListStateChanges(ctx context.Context, from, to Bound) ([]StateChangeRecord[P], error)
	GetLatestStateChangeMatching(ctx context.Context, filters []FieldFilter) (StateChangeRecord[P], error)
	GetLatestEventMatching(ctx context.Context, filters []FieldFilter) (EventRecord[P], error)
	ListEvents(ctx context.Context, limit, offset *int64) ([]P, error)
	ListEventsWithLogTime(ctx context.Context, limit, offset *int64) ([]TimestampedEvent[P], error)
	ListSnapshots(ctx context.Context) ([]SnapshotRecord[P], error)
}
