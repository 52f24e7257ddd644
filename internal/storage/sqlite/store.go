// Package sqlite provides the SQLite-backed state-change journal.
//
// A Store owns its database file exclusively for the life of the
// process: one underlying connection, exclusive locking, a persistent
// rollback journal. Writes serialize on a store-wide guard so the
// insert plus last-insert-id pair reads back the right position;
// Transact scopes multiple writes into one atomic commit.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/statewal/internal/platform/storage/sqliteddl"
	"github.com/louisbranch/statewal/internal/storage"
	"github.com/louisbranch/statewal/internal/storage/sqlite/schema"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SchemaVersion is the current schema format version. Every open stamps
// it into the settings table; mismatch handling belongs to migration
// tooling outside this package.
const SchemaVersion = 18

// minRuntimeVersion is the oldest embedded SQLite release carrying the
// JSON functions the filter queries use (3.9.0).
const minRuntimeVersion = 3009000

const settingVersion = "version"

// Store is the raw journal over opaque byte payloads.
//
// A Store is either in autocommit mode (tx nil, each write commits on
// its own) or bound to an open transaction scope (tx set, every
// operation routed through it). Transact moves between the two states.
type Store struct {
	path    string
	sqlDB   *sql.DB
	writeMu *sync.Mutex
	tx      *sql.Tx
}

// Open opens the journal database at path, configures it for exclusive
// single-process access, applies the schema, and stamps the current
// schema version. A file that fails durability configuration or schema
// application is reported as *storage.CorruptError and is not repaired.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	cleanPath := filepath.Clean(path)
	sqlDB, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// Session pragmas hold per connection, so the pool must never grow
	// past the one connection they were applied on.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// Exclusive locking skips the per-transaction lock acquire/release
	// cycle; nothing else reads this file while the process lives.
	if _, err := sqlDB.Exec("PRAGMA locking_mode=EXCLUSIVE"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set exclusive locking: %w", err)
	}

	// A persistent rollback journal skips journal deletion between
	// transactions. This pragma touches the file header, so it is the
	// first point where an unreadable or foreign file surfaces.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=PERSIST"); err != nil {
		_ = sqlDB.Close()
		return nil, &storage.CorruptError{Path: cleanPath, Cause: err}
	}

	if err := sqliteddl.ApplySchema(context.Background(), sqlDB, schema.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, &storage.CorruptError{Path: cleanPath, Cause: err}
	}

	store := &Store{path: cleanPath, sqlDB: sqlDB, writeMu: &sync.Mutex{}}
	if err := store.SetVersion(context.Background(), SchemaVersion); err != nil {
		_ = sqlDB.Close()
		return nil, &storage.CorruptError{Path: cleanPath, Cause: err}
	}
	return store, nil
}

// Close closes the underlying database handle.
//
// Close is intentionally nil-safe so callers can defer it in all
// startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Path returns the cleaned database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// CheckRuntimeVersion verifies the embedded SQLite runtime is recent
// enough for the journal's queries. Call it once at process start; it
// is independent of any store file.
func CheckRuntimeVersion() error {
	if sqlite3.SQLITE_VERSION_NUMBER < minRuntimeVersion {
		return fmt.Errorf("embedded sqlite version %s is older than the minimum supported 3.9.0", sqlite3.SQLITE_VERSION)
	}
	return nil
}

// GetVersion returns the stored schema version. An unset version row
// reads as the current SchemaVersion: fresh stores are stamped on first
// open, so absence means the store predates version stamping and is
// treated as already current.
func (s *Store) GetVersion(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("store is not open")
	}

	row := s.queryRowContext(ctx, "SELECT value FROM settings WHERE name = ?", settingVersion)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SchemaVersion, nil
		}
		return 0, fmt.Errorf("get version: %w", err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, &storage.CorruptError{Path: s.path, Cause: fmt.Errorf("parse version %q: %w", value, err)}
	}
	return v, nil
}

// SetVersion upserts the schema version row. Open calls it with
// SchemaVersion; it is a last-writer-wins stamp, not a migration
// trigger.
func (s *Store) SetVersion(ctx context.Context, v int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not open")
	}

	_, err := s.execContext(
		ctx,
		"INSERT OR REPLACE INTO settings(name, value) VALUES(?, ?)",
		settingVersion,
		strconv.FormatInt(v, 10),
	)
	if err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	return nil
}

// LogRun appends one run row recording the node software version, to
// help debugging against old database files. Call it once per process
// start.
func (s *Store) LogRun(ctx context.Context, nodeVersion string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not open")
	}
	if strings.TrimSpace(nodeVersion) == "" {
		return fmt.Errorf("node version is required")
	}

	_, err := s.execContext(ctx, "INSERT INTO runs(raiden_version) VALUES(?)", nodeVersion)
	if err != nil {
		return fmt.Errorf("log run: %w", err)
	}
	return nil
}

// ListRuns returns every recorded run, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]storage.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("store is not open")
	}

	rows, err := s.queryContext(ctx, "SELECT id, started_at, raiden_version FROM runs ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.RunRecord
	for rows.Next() {
		var (
			run       storage.RunRecord
			startedAt sql.NullString
			version   sql.NullString
		)
		if err := rows.Scan(&run.ID, &startedAt, &version); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		if startedAt.Valid {
			started, err := time.ParseInLocation("2006-01-02 15:04:05", startedAt.String, time.UTC)
			if err != nil {
				return nil, &storage.CorruptError{Path: s.path, Cause: fmt.Errorf("parse run timestamp %q: %w", startedAt.String, err)}
			}
			run.StartedAt = started
		}
		run.Version = version.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// withTx returns a clone of the store bound to tx. The clone shares the
// write guard, which the transaction coordinator already holds.
func (s *Store) withTx(tx *sql.Tx) *Store {
	if s == nil || tx == nil {
		return s
	}
	cloned := *s
	cloned.tx = tx
	return &cloned
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.tx != nil {
		return s.tx.ExecContext(ctx, query, args...)
	}
	return s.sqlDB.ExecContext(ctx, query, args...)
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.tx != nil {
		return s.tx.QueryContext(ctx, query, args...)
	}
	return s.sqlDB.QueryContext(ctx, query, args...)
}

func (s *Store) queryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if s.tx != nil {
		return s.tx.QueryRowContext(ctx, query, args...)
	}
	return s.sqlDB.QueryRowContext(ctx, query, args...)
}

func formatLogTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseLogTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

// isConstraintError reports whether err is a reference-integrity
// violation, which surfaces a caller handing a position that does not
// exist.
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

var _ storage.Journal[[]byte] = (*Store)(nil)
