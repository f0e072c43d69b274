// Package journal keeps a local sqlite record of run attempts made from
// this host. The coordination API stays the source of truth; the journal is
// a best-effort mirror so operators can inspect recent activity even while
// the remote service is unreachable.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wphospital/sprucepy/internal/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Entry is one journaled run attempt.
type Entry struct {
	RunID      string
	TaskID     string
	Status     core.RunStatus
	PID        *int
	ReturnCode *int
	StartedAt  time.Time
	EndedAt    *time.Time
}

// Journal wraps the sqlite database under the agent's state directory.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database under stateDir and
// applies migrations.
func Open(ctx context.Context, stateDir string) (*Journal, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	dbPath := filepath.Join(stateDir, "journal.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer; a single pooled connection keeps WAL
	// and busy_timeout consistently applied and serializes writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	timeout := int((3 * time.Second) / time.Millisecond)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", timeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	versions := []string{"0001_init"}
	for _, version := range versions {
		var count int
		err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}
		raw, err := migrations.ReadFile("migrations/" + version + ".sql")
		if err != nil {
			return fmt.Errorf("read migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
			version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}
	return nil
}

// RecordStart journals a freshly created run.
func (j *Journal) RecordStart(ctx context.Context, runID, taskID string, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (run_id, task_id, status, started_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, taskID, core.RunStatusInProgress, startedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("journal run start: %w", err)
	}
	return nil
}

// RecordPID stores the child process id once known.
func (j *Journal) RecordPID(ctx context.Context, runID string, pid int) error {
	_, err := j.db.ExecContext(ctx, `UPDATE runs SET pid = ? WHERE run_id = ?`, pid, runID)
	if err != nil {
		return fmt.Errorf("journal run pid: %w", err)
	}
	return nil
}

// RecordFinal journals the terminal transition of a run.
func (j *Journal) RecordFinal(ctx context.Context, runID string, status core.RunStatus, returnCode *int, endedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, return_code = ?, ended_at = ? WHERE run_id = ?
	`, status, nullableInt(returnCode), endedAt.UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("journal run final: %w", err)
	}
	return nil
}

// Recent lists the newest journal entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, task_id, status, pid, return_code, started_at, ended_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			pid, rc  sql.NullInt64
			started  string
			ended    sql.NullString
			statusTx string
		)
		if err := rows.Scan(&e.RunID, &e.TaskID, &statusTx, &pid, &rc, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Status = core.RunStatus(statusTx)
		if pid.Valid {
			v := int(pid.Int64)
			e.PID = &v
		}
		if rc.Valid {
			v := int(rc.Int64)
			e.ReturnCode = &v
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			e.StartedAt = t
		}
		if ended.Valid {
			if t, err := time.Parse(time.RFC3339Nano, ended.String); err == nil {
				e.EndedAt = &t
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
