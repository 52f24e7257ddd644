package sqlite

import (
	"context"
	"fmt"
)

// Transact runs fn inside a single atomic scope. Every operation fn
// performs through the store it receives either commits as one unit
// when fn returns nil or rolls back when fn returns an error. The
// store handed to fn is only valid until Transact returns, and scopes
// do not nest.
func (s *Store) Transact(ctx context.Context, fn func(*Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("store is not open")
	}
	if s.tx != nil {
		return fmt.Errorf("transaction scope is already open")
	}
	if fn == nil {
		return fmt.Errorf("fn is required")
	}

	// The guard is held for the whole scope so writes inside it keep
	// their order relative to autocommit writes.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction scope: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(s.withTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction scope: %w", err)
	}
	return nil
}
