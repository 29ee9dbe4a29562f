package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	JournalMode      string
	Synchronous      string
	Depths           map[string]int
	HealthRows       int
	Error            string
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	for _, table := range expectedTables {
		var name string
		err := s.db.QueryRowContext(connCtx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			health.MissingTables = append(health.MissingTables, table)
			continue
		}
		if err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	}
	if len(health.MissingTables) > 0 {
		return health, nil
	}

	if health.SchemaVersion, err = s.userVersion(connCtx); err != nil {
		health.Error = err.Error()
		return health, err
	}

	if health.Depths, err = s.Depths(connCtx); err != nil {
		health.Error = err.Error()
		return health, err
	}
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM unit_health").Scan(&health.HealthRows); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count unit health: %w", err)
	}

	var synchronous int
	if err := s.db.QueryRowContext(connCtx, "PRAGMA journal_mode").Scan(&health.JournalMode); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("journal mode: %w", err)
	}
	if err := s.db.QueryRowContext(connCtx, "PRAGMA synchronous").Scan(&synchronous); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("synchronous: %w", err)
	}
	health.Synchronous = synchronousLabel(synchronous)

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

func synchronousLabel(value int) string {
	switch value {
	case 0:
		return "off"
	case 1:
		return "normal"
	case 2:
		return "full"
	case 3:
		return "extra"
	default:
		return fmt.Sprintf("unknown(%d)", value)
	}
}
