// Package journal keeps a SQLite history of door actuations.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"coop-door-controller/internal/door"
)

const (
	dirPermissions    = 0750
	connectionTimeout = 5 * time.Second
	busyTimeoutMS     = 5000
)

// ErrDisabled is returned by Open when no journal file is configured.
var ErrDisabled = errors.New("journal: disabled in configuration")

// migrations are applied in order; the index+1 is the schema version.
var migrations = []string{
	`CREATE TABLE actuations (
		id            TEXT PRIMARY KEY,
		action        TEXT    NOT NULL,
		from_state    TEXT    NOT NULL,
		to_state      TEXT    NOT NULL,
		outcome       TEXT    NOT NULL,
		limit_reached INTEGER NOT NULL,
		started_at    INTEGER NOT NULL,
		duration_ns   INTEGER NOT NULL,
		error         TEXT    NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX idx_actuations_started_at ON actuations (started_at DESC)`,
}

// Journal is the actuation history store.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal at path and applies pending migrations.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, ErrDisabled
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	var current int
	if err := j.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := j.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback() //nolint:errcheck // Rollback after failed statement
			return fmt.Errorf("migration %d: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, time.Now().Unix()); err != nil {
			tx.Rollback() //nolint:errcheck // Rollback after failed statement
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// Record stores one actuation report.
func (j *Journal) Record(ctx context.Context, r door.Report) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO actuations (id, action, from_state, to_state, outcome, limit_reached, started_at, duration_ns, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), string(r.Action), r.From.String(), r.To.String(), r.Outcome.String(),
		r.LimitReached, r.Started.UnixNano(), int64(r.Duration), r.Err,
	)
	if err != nil {
		return fmt.Errorf("recording actuation %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to n reports, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]door.Report, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, action, from_state, to_state, outcome, limit_reached, started_at, duration_ns, error
		 FROM actuations ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying actuations: %w", err)
	}
	defer rows.Close()

	reports := []door.Report{}
	for rows.Next() {
		var (
			r                        door.Report
			id, action, from, to, oc string
			started, duration        int64
		)
		if err := rows.Scan(&id, &action, &from, &to, &oc, &r.LimitReached, &started, &duration, &r.Err); err != nil {
			return nil, fmt.Errorf("scanning actuation: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("actuation id %q: %w", id, err)
		}
		if err := r.From.UnmarshalText([]byte(from)); err != nil {
			return nil, err
		}
		if err := r.To.UnmarshalText([]byte(to)); err != nil {
			return nil, err
		}
		if err := r.Outcome.UnmarshalText([]byte(oc)); err != nil {
			return nil, err
		}
		r.Action = door.Action(action)
		r.Started = time.Unix(0, started)
		r.Duration = time.Duration(duration)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actuations: %w", err)
	}
	return reports, nil
}

// Path returns the database file.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}
