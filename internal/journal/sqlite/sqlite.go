// Package sqlite implements a SQLite-backed journal using database/sql. Each
// batch is written inside one transaction with a prepared INSERT.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dataloader/internal/journal"
	"dataloader/internal/result"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS row_journal (
	run_id      TEXT    NOT NULL,
	job         TEXT    NOT NULL,
	entity      TEXT    NOT NULL,
	source      TEXT    NOT NULL,
	row_number  INTEGER NOT NULL,
	fingerprint INTEGER NOT NULL,
	action      TEXT    NOT NULL,
	remote_id   INTEGER NOT NULL,
	code        TEXT    NOT NULL,
	message     TEXT    NOT NULL,
	recorded_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS row_journal_resume ON row_journal (source, row_number, fingerprint);
`

// Journal is a SQLite-backed journal.Journal.
type Journal struct {
	db *sql.DB
}

// Open opens (and if needed creates) the journal database at dsn, e.g.
// "journal.db" or "file:journal.db?_pragma=busy_timeout(5000)".
func Open(ctx context.Context, dsn string) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record inserts entries in one transaction.
func (j *Journal) Record(ctx context.Context, entries []journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO row_journal
		(run_id, job, entity, source, row_number, fingerprint, action, remote_id, code, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.RunID, e.Job, e.Entity, e.Source, e.Row, int64(e.Fingerprint),
			e.Action.String(), e.RemoteID, e.Code, e.Message, e.At.UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Succeeded implements journal.Journal.
func (j *Journal) Succeeded(ctx context.Context, source string, row int, fingerprint uint64) (bool, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM row_journal
		WHERE source = ? AND row_number = ? AND fingerprint = ? AND action IN (?, ?, ?)`,
		source, row, int64(fingerprint),
		result.Insert.String(), result.Update.String(), result.Delete.String(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: resume lookup: %w", err)
	}
	return n > 0, nil
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

func init() {
	journal.Register("sqlite", func(ctx context.Context, cfg journal.Config) (journal.Journal, error) {
		return Open(ctx, cfg.DSN)
	})
}
