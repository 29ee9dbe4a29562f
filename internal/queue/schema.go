package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in SQLite's user_version. Bump it with any change
// to schema.sql; there are no migrations.
const schemaVersion = 1

// ErrSchemaMismatch reports a database written by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

var expectedTables = []string{"channel_entries", "channel_offsets", "unit_health"}

func (s *Store) userVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return v, nil
}

// initSchema creates the tables in a fresh database and refuses one stamped
// with a different version. A mismatch needs an operator: in-flight items
// would be lost by recreating the file.
func (s *Store) initSchema(ctx context.Context) error {
	v, err := s.userVersion(ctx)
	if err != nil {
		return err
	}
	switch v {
	case schemaVersion:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w: %s has version %d, this build expects %d (drain the pipeline and move it aside)",
			ErrSchemaMismatch, s.path, v, schemaVersion)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	return tx.Commit()
}
