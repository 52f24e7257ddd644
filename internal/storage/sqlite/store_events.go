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

// AppendEvents inserts a batch of events produced by the state change
// at stateChangeID, all stamped with logTime. The batch is a single
// statement, so it lands atomically even outside a transaction scope.
// An empty batch is a no-op.
func (s *Store) AppendEvents(ctx context.Context, stateChangeID int64, logTime time.Time, events [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not open")
	}
	if stateChangeID <= 0 {
		return fmt.Errorf("state change position must be positive: %w", storage.ErrInvalidArgument)
	}
	if len(events) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*3)
	ts := formatLogTime(logTime)
	for _, event := range events {
		if len(event) == 0 {
			return fmt.Errorf("event payload is required")
		}
		placeholders = append(placeholders, "(null, ?, ?, ?)")
		args = append(args, stateChangeID, ts, string(event))
	}

	if s.tx == nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	_, err := s.execContext(
		ctx,
		"INSERT INTO state_events(identifier, source_statechange_id, log_time, data) VALUES "+strings.Join(placeholders, ", "),
		args...,
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("state change %d does not exist: %w", stateChangeID, storage.ErrInvalidArgument)
		}
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// ListEvents returns event payloads ordered by position. A nil limit
// returns everything after offset; a nil offset starts at the first
// event.
func (s *Store) ListEvents(ctx context.Context, limit, offset *int64) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not open")
	}
	lim, off, err := pageWindow(limit, offset)
	if err != nil {
		return nil, err
	}

	rows, err := s.queryContext(
		ctx,
		"SELECT data FROM state_events ORDER BY identifier ASC LIMIT ? OFFSET ?",
		lim,
		off,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		events = append(events, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// ListEventsWithLogTime returns event payloads paired with their
// capture timestamps, ordered by position and paged like ListEvents.
func (s *Store) ListEventsWithLogTime(ctx context.Context, limit, offset *int64) ([]storage.TimestampedEvent[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not open")
	}
	lim, off, err := pageWindow(limit, offset)
	if err != nil {
		return nil, err
	}

	rows, err := s.queryContext(
		ctx,
		"SELECT data, log_time FROM state_events ORDER BY identifier ASC LIMIT ? OFFSET ?",
		lim,
		off,
	)
	if err != nil {
		return nil, fmt.Errorf("list events with log time: %w", err)
	}
	defer rows.Close()

	var events []storage.TimestampedEvent[[]byte]
	for rows.Next() {
		var (
			data    []byte
			logTime sql.NullString
		)
		if err := rows.Scan(&data, &logTime); err != nil {
			return nil, fmt.Errorf("list events with log time: %w", err)
		}
		if !logTime.Valid {
			return nil, &storage.CorruptError{Path: s.path, Cause: errors.New("event log time is missing")}
		}
		ts, err := parseLogTime(logTime.String)
		if err != nil {
			return nil, &storage.CorruptError{Path: s.path, Cause: fmt.Errorf("parse event log time %q: %w", logTime.String, err)}
		}
		events = append(events, storage.TimestampedEvent[[]byte]{Data: data, LogTime: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events with log time: %w", err)
	}
	return events, nil
}

// GetLatestEventMatching returns the newest event whose payload
// satisfies every filter, or the zero record when none match.
func (s *Store) GetLatestEventMatching(ctx context.Context, filters []storage.FieldFilter) (storage.EventRecord[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord[[]byte]{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventRecord[[]byte]{}, fmt.Errorf("store is not open")
	}
	clause, args, err := filterClause(filters)
	if err != nil {
		return storage.EventRecord[[]byte]{}, err
	}

	row := s.queryRowContext(
		ctx,
		"SELECT identifier, source_statechange_id, data FROM state_events WHERE "+clause+" ORDER BY identifier DESC LIMIT 1",
		args...,
	)
	var rec storage.EventRecord[[]byte]
	if err := row.Scan(&rec.ID, &rec.StateChangeID, &rec.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EventRecord[[]byte]{}, nil
		}
		return storage.EventRecord[[]byte]{}, fmt.Errorf("match event: %w", err)
	}
	return rec, nil
}

// pageWindow translates optional paging bounds into the LIMIT and
// OFFSET arguments SQLite expects, where -1 means no limit.
func pageWindow(limit, offset *int64) (int64, int64, error) {
	lim := int64(-1)
	if limit != nil {
		if *limit < 0 {
			return 0, 0, fmt.Errorf("limit must not be negative: %w", storage.ErrInvalidArgument)
		}
		lim = *limit
	}
	var off int64
	if offset != nil {
		if *offset < 0 {
			return 0, 0, fmt.Errorf("offset must not be negative: %w", storage.ErrInvalidArgument)
		}
		off = *offset
	}
	return lim, off, nil
}
