package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/louisbranch/statewal/internal/storage"
	"github.com/louisbranch/statewal/internal/storage/serialize"
)

func openTestSerializedStore(t *testing.T) *SerializedStore {
	t.Helper()
	store, err := OpenSerialized(filepath.Join(t.TempDir(), "state.db"), serialize.JSON{})
	if err != nil {
		t.Fatalf("open serialized store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close serialized store: %v", err)
		}
	})
	return store
}

func TestSerializedStateChangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestSerializedStore(t)

	payload := map[string]any{"type": "deposit", "amount": float64(5)}
	id, err := store.AppendStateChange(ctx, payload, testLogTime())
	if err != nil {
		t.Fatalf("append state change: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected position 1, got %d", id)
	}

	records, err := store.ListStateChanges(ctx, storage.Bound{}, storage.Bound{})
	if err != nil {
		t.Fatalf("list state changes: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if !reflect.DeepEqual(records[0].Data, payload) {
		t.Fatalf("expected decoded payload %v, got %v", payload, records[0].Data)
	}
}

func TestSerializedSnapshotFlow(t *testing.T) {
	ctx := context.Background()
	store := openTestSerializedStore(t)

	for i := 1; i <= 2; i++ {
		if _, err := store.AppendStateChange(ctx, map[string]any{"n": float64(i)}, testLogTime()); err != nil {
			t.Fatalf("append state change %d: %v", i, err)
		}
	}
	snapshot := map[string]any{"balance": float64(7)}
	if _, err := store.AppendSnapshot(ctx, 2, snapshot); err != nil {
		t.Fatalf("append snapshot: %v", err)
	}

	rec, err := store.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("get latest snapshot: %v", err)
	}
	if rec.StateChangeID != 2 || !reflect.DeepEqual(rec.Data, snapshot) {
		t.Fatalf("unexpected snapshot record %+v", rec)
	}

	closest, err := store.GetSnapshotClosestTo(ctx, storage.At(2))
	if err != nil {
		t.Fatalf("get closest snapshot: %v", err)
	}
	if !reflect.DeepEqual(closest.Data, snapshot) {
		t.Fatalf("expected decoded closest snapshot, got %+v", closest)
	}

	updated := map[string]any{"balance": float64(9)}
	if err := store.UpdateSnapshot(ctx, rec.ID, updated); err != nil {
		t.Fatalf("update snapshot: %v", err)
	}
	rec, err = store.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("get latest snapshot after update: %v", err)
	}
	if !reflect.DeepEqual(rec.Data, updated) {
		t.Fatalf("expected updated payload, got %+v", rec.Data)
	}
}

func TestSerializedClosestSnapshotMissPassesSentinelThrough(t *testing.T) {
	ctx := context.Background()
	store := openTestSerializedStore(t)

	if _, err := store.AppendStateChange(ctx, map[string]any{"n": float64(1)}, testLogTime()); err != nil {
		t.Fatalf("append state change: %v", err)
	}
	if _, err := store.AppendSnapshot(ctx, 1, map[string]any{"snap": "a"}); err != nil {
		t.Fatalf("append snapshot: %v", err)
	}

	rec, err := store.GetSnapshotClosestTo(ctx, storage.At(0))
	if err != nil {
		t.Fatalf("get closest snapshot: %v", err)
	}
	if rec.ID != 0 || rec.Data != nil {
		t.Fatalf("expected undecoded zero record, got %+v", rec)
	}
}

func TestSerializedMatching(t *testing.T) {
	ctx := context.Background()
	store := openTestSerializedStore(t)

	for _, payload := range []map[string]any{
		{"type": "A", "n": float64(1)},
		{"type": "B", "n": float64(2)},
		{"type": "A", "n": float64(3)},
	} {
		if _, err := store.AppendStateChange(ctx, payload, testLogTime()); err != nil {
			t.Fatalf("append state change: %v", err)
		}
	}

	rec, err := store.GetLatestStateChangeMatching(ctx, []storage.FieldFilter{{Path: "type", Value: "A"}})
	if err != nil {
		t.Fatalf("match state change: %v", err)
	}
	if rec.ID != 3 {
		t.Fatalf("expected newest match at position 3, got %d", rec.ID)
	}
	want := map[string]any{"type": "A", "n": float64(3)}
	if !reflect.DeepEqual(rec.Data, want) {
		t.Fatalf("expected decoded match %v, got %v", want, rec.Data)
	}

	rec, err = store.GetLatestStateChangeMatching(ctx, []storage.FieldFilter{{Path: "type", Value: "C"}})
	if err != nil {
		t.Fatalf("match state change miss: %v", err)
	}
	if rec.ID != 0 || rec.Data != nil {
		t.Fatalf("expected zero record on miss, got %+v", rec)
	}
}

func TestSerializedEvents(t *testing.T) {
	ctx := context.Background()
	store := openTestSerializedStore(t)

	if _, err := store.AppendStateChange(ctx, map[string]any{"type": "deposit"}, testLogTime()); err != nil {
		t.Fatalf("append state change: %v", err)
	}
	batch := []any{
		map[string]any{"event": "a"},
		map[string]any{"event": "b"},
	}
	if err := store.AppendEvents(ctx, 1, testLogTime(), batch); err != nil {
		t.Fatalf("append events: %v", err)
	}

	events, err := store.ListEvents(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if !reflect.DeepEqual(events, batch) {
		t.Fatalf("expected decoded events %v, got %v", batch, events)
	}

	timed, err := store.ListEventsWithLogTime(ctx, nil, nil)
	if err != nil {
		t.Fatalf("list events with log time: %v", err)
	}
	if len(timed) != 2 {
		t.Fatalf("expected 2 timed events, got %d", len(timed))
	}
	if !timed[0].LogTime.Equal(testLogTime()) {
		t.Fatalf("expected log time %v, got %v", testLogTime(), timed[0].LogTime)
	}

	rec, err := store.GetLatestEventMatching(ctx, []storage.FieldFilter{{Path: "event", Value: "a"}})
	if err != nil {
		t.Fatalf("match event: %v", err)
	}
	if rec.ID != 1 || !reflect.DeepEqual(rec.Data, batch[0]) {
		t.Fatalf("unexpected event match %+v", rec)
	}
}

func TestSerializedDecodeFailureIsCorrupt(t *testing.T) {
	ctx := context.Background()
	raw := openTestStore(t)
	store, err := NewSerializedStore(raw, serialize.JSON{})
	if err != nil {
		t.Fatalf("wrap store: %v", err)
	}

	if _, err := raw.AppendStateChange(ctx, []byte("not json"), testLogTime()); err != nil {
		t.Fatalf("append raw payload: %v", err)
	}

	_, err = store.ListStateChanges(ctx, storage.Bound{}, storage.Bound{})
	if err == nil {
		t.Fatal("expected error for undecodable payload")
	}
	var corrupt *storage.CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected corrupt database error, got %v", err)
	}
}

func TestSerializedTransact(t *testing.T) {
	ctx := context.Background()
	store := openTestSerializedStore(t)

	err := store.Transact(ctx, func(scoped *SerializedStore) error {
		if _, err := scoped.AppendStateChange(ctx, map[string]any{"n": float64(1)}, testLogTime()); err != nil {
			return err
		}
		_, err := scoped.AppendSnapshot(ctx, 1, map[string]any{"balance": float64(1)})
		return err
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	count, err := store.CountStateChanges(ctx)
	if err != nil {
		t.Fatalf("count state changes: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 state change after commit, got %d", count)
	}

	boom := errors.New("boom")
	err = store.Transact(ctx, func(scoped *SerializedStore) error {
		if _, err := scoped.AppendStateChange(ctx, map[string]any{"n": float64(2)}, testLogTime()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the scope error back, got %v", err)
	}
	count, err = store.CountStateChanges(ctx)
	if err != nil {
		t.Fatalf("count after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to discard the append, got %d", count)
	}
}

func TestSerializedWithCompressingCodec(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSerialized(
		filepath.Join(t.TempDir(), "state.db"),
		serialize.Snappy{Inner: serialize.JSON{}},
	)
	if err != nil {
		t.Fatalf("open serialized store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close serialized store: %v", err)
		}
	})

	payload := map[string]any{"type": "deposit", "amount": float64(42)}
	if _, err := store.AppendStateChange(ctx, payload, testLogTime()); err != nil {
		t.Fatalf("append state change: %v", err)
	}

	records, err := store.ListStateChanges(ctx, storage.Bound{}, storage.Bound{})
	if err != nil {
		t.Fatalf("list state changes: %v", err)
	}
	if len(records) != 1 || !reflect.DeepEqual(records[0].Data, payload) {
		t.Fatalf("expected compressed round trip, got %+v", records)
	}
}

func TestSerializedConstructorsValidate(t *testing.T) {
	if _, err := NewSerializedStore(nil, serialize.JSON{}); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewSerializedStore(openTestStore(t), nil); err == nil {
		t.Fatal("expected error for nil codec")
	}
	if _, err := OpenSerialized(filepath.Join(t.TempDir(), "state.db"), nil); err == nil {
		t.Fatal("expected error for nil codec")
	}
}

func TestSerializedSharesRawStore(t *testing.T) {
	ctx := context.Background()
	raw := openTestStore(t)
	store, err := NewSerializedStore(raw, serialize.JSON{})
	if err != nil {
		t.Fatalf("wrap store: %v", err)
	}

	if store.Raw() != raw {
		t.Fatal("expected the wrapper to expose its raw store")
	}
	version, err := store.GetVersion(ctx)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("expected version %d, got %d", SchemaVersion, version)
	}

	if _, err := store.AppendStateChange(ctx, map[string]any{"n": float64(1)}, testLogTime()); err != nil {
		t.Fatalf("append through wrapper: %v", err)
	}
	count, err := raw.CountStateChanges(ctx)
	if err != nil {
		t.Fatalf("count through raw store: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the write to land in the shared store, got %d", count)
	}
}
