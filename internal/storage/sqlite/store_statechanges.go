package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/statewal/internal/storage"
)

// AppendStateChange inserts one state change and returns its assigned
// position.
func (s *Store) AppendStateChange(ctx context.Context, data []byte, logTime time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("store is not open")
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("state change payload is required")
	}

	// The position read back below is only defined relative to this
	// connection's most recent insert, so insert and read-back must not
	// interleave with another writer.
	if s.tx == nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	// Payloads bind as TEXT so the SQL JSON functions can read them.
	res, err := s.execContext(
		ctx,
		"INSERT INTO state_changes(identifier, data, log_time) VALUES(null, ?, ?)",
		string(data),
		formatLogTime(logTime),
	)
	if err != nil {
		return 0, fmt.Errorf("insert state change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read state change position: %w", err)
	}
	return id, nil
}

// CountStateChanges returns the number of stored state changes.
func (s *Store) CountStateChanges(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("store is not open")
	}

	row := s.queryRowContext(ctx, "SELECT COUNT(1) FROM state_changes")
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count state changes: %w", err)
	}
	return count, nil
}

// ListStateChanges returns state changes with positions in [from, to],
// ascending. An absent from starts at the beginning; an absent or
// Latest to is open-ended. A Latest from resolves to the highest
// assigned position and requires an absent to.
func (s *Store) ListStateChanges(ctx context.Context, from, to storage.Bound) ([]storage.StateChangeRecord[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not open")
	}
	if from.IsLatest() && !to.IsAbsent() {
		return nil, fmt.Errorf("latest lower bound requires an absent upper bound: %w", storage.ErrInvalidArgument)
	}
	if !from.IsAbsent() && !from.IsLatest() && from.Position() < 0 {
		return nil, fmt.Errorf("lower bound must not be negative: %w", storage.ErrInvalidArgument)
	}
	if !to.IsAbsent() && !to.IsLatest() && to.Position() < 0 {
		return nil, fmt.Errorf("upper bound must not be negative: %w", storage.ErrInvalidArgument)
	}

	fromID := int64(0)
	switch {
	case from.IsLatest():
		latest, err := s.maxStateChangeID(ctx)
		if err != nil {
			return nil, err
		}
		fromID = latest
	case !from.IsAbsent():
		fromID = from.Position()
	}

	var (
		rows *sql.Rows
		err  error
	)
	if to.IsAbsent() || to.IsLatest() {
		rows, err = s.queryContext(
			ctx,
			"SELECT identifier, data FROM state_changes WHERE identifier >= ? ORDER BY identifier ASC",
			fromID,
		)
	} else {
		rows, err = s.queryContext(
			ctx,
			"SELECT identifier, data FROM state_changes WHERE identifier BETWEEN ? AND ? ORDER BY identifier ASC",
			fromID,
			to.Position(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list state changes: %w", err)
	}
	defer rows.Close()

	var records []storage.StateChangeRecord[[]byte]
	for rows.Next() {
		var rec storage.StateChangeRecord[[]byte]
		if err := rows.Scan(&rec.ID, &rec.Data); err != nil {
			return nil, fmt.Errorf("list state changes: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list state changes: %w", err)
	}
	return records, nil
}

// GetLatestStateChangeMatching returns the newest state change whose
// payload satisfies every filter, or the zero record when none match.
func (s *Store) GetLatestStateChangeMatching(ctx context.Context, filters []storage.FieldFilter) (storage.StateChangeRecord[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return storage.StateChangeRecord[[]byte]{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.StateChangeRecord[[]byte]{}, fmt.Errorf("store is not open")
	}
	clause, args, err := filterClause(filters)
	if err != nil {
		return storage.StateChangeRecord[[]byte]{}, err
	}

	row := s.queryRowContext(
		ctx,
		"SELECT identifier, data FROM state_changes WHERE "+clause+" ORDER BY identifier DESC LIMIT 1",
		args...,
	)
	var rec storage.StateChangeRecord[[]byte]
	if err := row.Scan(&rec.ID, &rec.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.StateChangeRecord[[]byte]{}, nil
		}
		return storage.StateChangeRecord[[]byte]{}, fmt.Errorf("match state change: %w", err)
	}
	return rec, nil
}

// maxStateChangeID resolves the highest assigned state change position,
// 0 when none exist.
func (s *Store) maxStateChangeID(ctx context.Context) (int64, error) {
	row := s.queryRowContext(ctx, "SELECT identifier FROM state_changes ORDER BY identifier DESC LIMIT 1")
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("resolve latest state change: %w", err)
	}
	return id, nil
}

// filterClause builds the AND-joined json_extract conditions for field
// filters. Paths address the stored JSON payload from its root.
func filterClause(filters []storage.FieldFilter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("at least one field filter is required: %w", storage.ErrInvalidArgument)
	}
	clauses := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters)*2)
	for _, f := range filters {
		path := strings.TrimSpace(f.Path)
		if path == "" {
			return "", nil, fmt.Errorf("field filter path is required: %w", storage.ErrInvalidArgument)
		}
		clauses = append(clauses, "json_extract(data, ?) = ?")
		args = append(args, "$."+path, f.Value)
	}
	return strings.Join(clauses, " AND "), args, nil
}
