// Package sqliteddl applies embedded schema scripts to SQLite databases.
package sqliteddl

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ApplySchema executes every .sql script under root in schemaFS, sorted
// lexicographically so startup behavior is deterministic. Scripts are
// expected to be written with IF NOT EXISTS guards; errors that only signal
// an object already exists are tolerated, so applying the schema to an
// already-initialized database is safe.
func ApplySchema(ctx context.Context, sqlDB *sql.DB, schemaFS fs.FS, root string) error {
	if sqlDB == nil {
		return fmt.Errorf("sql db is required")
	}

	readRoot := strings.TrimSpace(root)
	if readRoot == "" {
		readRoot = "."
	}

	entries, err := fs.ReadDir(schemaFS, readRoot)
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, file := range sqlFiles {
		content, err := fs.ReadFile(schemaFS, filepath.Join(readRoot, file))
		if err != nil {
			return fmt.Errorf("read schema %s: %w", file, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := sqlDB.ExecContext(ctx, string(content)); err != nil {
			if !IsAlreadyExistsError(err) {
				return fmt.Errorf("exec schema %s: %w", file, err)
			}
		}
	}

	return nil
}

// IsAlreadyExistsError reports whether this error indicates idempotent DDL success.
func IsAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}
