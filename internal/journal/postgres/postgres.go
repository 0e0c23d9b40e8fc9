// Package postgres implements a Postgres-backed journal using pgx v5. Batches
// are written with COPY.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dataloader/internal/journal"
	"dataloader/internal/result"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const table = "row_journal"

var columns = []string{
	"run_id", "job", "entity", "source", "row_number", "fingerprint",
	"action", "remote_id", "code", "message", "recorded_at",
}

const schema = `
CREATE TABLE IF NOT EXISTS row_journal (
	run_id      text        NOT NULL,
	job         text        NOT NULL,
	entity      text        NOT NULL,
	source      text        NOT NULL,
	row_number  integer     NOT NULL,
	fingerprint bigint      NOT NULL,
	action      text        NOT NULL,
	remote_id   bigint      NOT NULL,
	code        text        NOT NULL,
	message     text        NOT NULL,
	recorded_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS row_journal_resume ON row_journal (source, row_number, fingerprint);
`

// Journal is a Postgres-backed journal.Journal.
type Journal struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and creates the journal table if it is missing.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", pgDetail(err))
	}
	return &Journal{pool: pool}, nil
}

// Record copies entries into the journal table.
func (j *Journal) Record(ctx context.Context, entries []journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{
			e.RunID, e.Job, e.Entity, e.Source, int32(e.Row), int64(e.Fingerprint),
			e.Action.String(), e.RemoteID, e.Code, e.Message, e.At,
		})
	}
	n, err := j.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table, pgDetail(err))
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", table, n, len(rows))
	}
	return nil
}

// Succeeded implements journal.Journal.
func (j *Journal) Succeeded(ctx context.Context, source string, row int, fingerprint uint64) (bool, error) {
	var ok bool
	err := j.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM row_journal
		WHERE source = $1 AND row_number = $2 AND fingerprint = $3 AND action = ANY($4))`,
		source, int32(row), int64(fingerprint),
		[]string{result.Insert.String(), result.Update.String(), result.Delete.String()},
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: resume lookup: %w", pgDetail(err))
	}
	return ok, nil
}

// Close closes the pool.
func (j *Journal) Close() error {
	j.pool.Close()
	return nil
}

// pgDetail surfaces the server's detail message when there is one.
func pgDetail(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s (%s): %w", pgErr.Detail, pgErr.SQLState(), err)
	}
	return err
}

func init() {
	journal.Register("postgres", func(ctx context.Context, cfg journal.Config) (journal.Journal, error) {
		return Open(ctx, cfg.DSN)
	})
}
