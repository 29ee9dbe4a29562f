package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LoadHealth returns every persisted unit health row keyed by hostname.
func (s *Store) LoadHealth(ctx context.Context) (map[string]UnitHealth, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT hostname, last_received_at, last_sequence_number, last_file_size, last_transfer_duration_ns FROM unit_health`)
	if err != nil {
		return nil, fmt.Errorf("load unit health: %w", err)
	}
	defer rows.Close()

	out := make(map[string]UnitHealth)
	for rows.Next() {
		var (
			hostname string
			received sql.NullString
			sequence sql.NullInt64
			size     sql.NullInt64
			duration sql.NullInt64
		)
		if err := rows.Scan(&hostname, &received, &sequence, &size, &duration); err != nil {
			return nil, fmt.Errorf("scan unit health: %w", err)
		}
		var state UnitHealth
		if received.Valid {
			if ts, err := parseTime(received.String); err == nil {
				state.LastReceivedAt = &ts
			}
		}
		if sequence.Valid {
			v := sequence.Int64
			state.LastSequenceNumber = &v
		}
		if size.Valid {
			v := size.Int64
			state.LastFileSize = &v
		}
		if duration.Valid {
			v := time.Duration(duration.Int64)
			state.LastTransferDuration = &v
		}
		out[hostname] = state
	}
	return out, rows.Err()
}

// SaveHealth replaces the stored state of every unit in states within one transaction.
func (s *Store) SaveHealth(ctx context.Context, states map[string]UnitHealth) error {
	ctx = ensureContext(ctx)
	now := formatTime(time.Now())
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO unit_health (hostname, last_received_at, last_sequence_number, last_file_size, last_transfer_duration_ns, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)
             ON CONFLICT(hostname) DO UPDATE SET
                last_received_at = excluded.last_received_at,
                last_sequence_number = excluded.last_sequence_number,
                last_file_size = excluded.last_file_size,
                last_transfer_duration_ns = excluded.last_transfer_duration_ns,
                updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()
		for hostname, state := range states {
			if _, err := stmt.ExecContext(ctx,
				hostname,
				nullableTime(state.LastReceivedAt),
				nullableInt(state.LastSequenceNumber),
				nullableInt(state.LastFileSize),
				nullableDuration(state.LastTransferDuration),
				now,
			); err != nil {
				return fmt.Errorf("write %s: %w", hostname, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save unit health: %w", err)
	}
	return nil
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableInt(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableDuration(value *time.Duration) any {
	if value == nil {
		return nil
	}
	return int64(*value)
}
