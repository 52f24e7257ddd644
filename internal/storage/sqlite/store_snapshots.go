package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/louisbranch/statewal/internal/storage"
)

// AppendSnapshot inserts a snapshot anchored at stateChangeID and
// returns its assigned position. Anchor 0 means no state changes were
// applied yet; any other anchor must name an existing state change.
func (s *Store) AppendSnapshot(ctx context.Context, stateChangeID int64, data []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("store is not open")
	}
	if stateChangeID < 0 {
		return 0, fmt.Errorf("state change position must not be negative: %w", storage.ErrInvalidArgument)
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("snapshot payload is required")
	}

	// The initial-state anchor stores as NULL so the reference check
	// only binds real positions.
	anchor := sql.NullInt64{Int64: stateChangeID, Valid: stateChangeID != 0}

	if s.tx == nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	res, err := s.execContext(
		ctx,
		"INSERT INTO state_snapshot(identifier, statechange_id, data) VALUES(null, ?, ?)",
		anchor,
		string(data),
	)
	if err != nil {
		if isConstraintError(err) {
			return 0, fmt.Errorf("state change %d does not exist: %w", stateChangeID, storage.ErrInvalidArgument)
		}
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read snapshot position: %w", err)
	}
	return id, nil
}

// UpdateSnapshot replaces the payload of the snapshot at id. It
// returns storage.ErrNotFound when no snapshot has that position.
func (s *Store) UpdateSnapshot(ctx context.Context, id int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not open")
	}
	if len(data) == 0 {
		return fmt.Errorf("snapshot payload is required")
	}

	res, err := s.execContext(
		ctx,
		"UPDATE state_snapshot SET data = ? WHERE identifier = ?",
		string(data),
		id,
	)
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("snapshot %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// GetLatestSnapshot returns the most recently written snapshot. It
// returns storage.ErrNotFound when no snapshot was written yet.
func (s *Store) GetLatestSnapshot(ctx context.Context) (storage.SnapshotRecord[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return storage.SnapshotRecord[[]byte]{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SnapshotRecord[[]byte]{}, fmt.Errorf("store is not open")
	}

	row := s.queryRowContext(
		ctx,
		"SELECT identifier, COALESCE(statechange_id, 0), data FROM state_snapshot ORDER BY identifier DESC LIMIT 1",
	)
	var rec storage.SnapshotRecord[[]byte]
	if err := row.Scan(&rec.ID, &rec.StateChangeID, &rec.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SnapshotRecord[[]byte]{}, storage.ErrNotFound
		}
		return storage.SnapshotRecord[[]byte]{}, fmt.Errorf("get latest snapshot: %w", err)
	}
	return rec, nil
}

// GetSnapshotClosestTo returns the newest snapshot whose anchor is at
// or before target, or the zero record when no snapshot qualifies. A
// Latest target resolves to the highest assigned state change
// position.
func (s *Store) GetSnapshotClosestTo(ctx context.Context, target storage.Bound) (storage.SnapshotRecord[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return storage.SnapshotRecord[[]byte]{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SnapshotRecord[[]byte]{}, fmt.Errorf("store is not open")
	}
	if target.IsAbsent() {
		return storage.SnapshotRecord[[]byte]{}, fmt.Errorf("snapshot target is required: %w", storage.ErrInvalidArgument)
	}
	if !target.IsLatest() && target.Position() < 0 {
		return storage.SnapshotRecord[[]byte]{}, fmt.Errorf("snapshot target must not be negative: %w", storage.ErrInvalidArgument)
	}

	targetID := target.Position()
	if target.IsLatest() {
		latest, err := s.maxStateChangeID(ctx)
		if err != nil {
			return storage.SnapshotRecord[[]byte]{}, err
		}
		targetID = latest
	}

	row := s.queryRowContext(
		ctx,
		"SELECT identifier, COALESCE(statechange_id, 0), data FROM state_snapshot WHERE COALESCE(statechange_id, 0) <= ? ORDER BY identifier DESC LIMIT 1",
		targetID,
	)
	var rec storage.SnapshotRecord[[]byte]
	if err := row.Scan(&rec.ID, &rec.StateChangeID, &rec.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SnapshotRecord[[]byte]{}, nil
		}
		return storage.SnapshotRecord[[]byte]{}, fmt.Errorf("get closest snapshot: %w", err)
	}
	return rec, nil
}

// ListSnapshots returns every stored snapshot ordered by position.
func (s *Store) ListSnapshots(ctx context.Context) ([]storage.SnapshotRecord[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not open")
	}

	rows, err := s.queryContext(
		ctx,
		"SELECT identifier, COALESCE(statechange_id, 0), data FROM state_snapshot ORDER BY identifier ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var records []storage.SnapshotRecord[[]byte]
	for rows.Next() {
		var rec storage.SnapshotRecord[[]byte]
		if err := rows.Scan(&rec.ID, &rec.StateChangeID, &rec.Data); err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return records, nil
}
