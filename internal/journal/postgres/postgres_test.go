package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"dataloader/internal/journal"
	"dataloader/internal/result"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPgDetail(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	if got := pgDetail(plain); got != plain {
		t.Fatalf("pgDetail(plain)=%v; want unchanged", got)
	}
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate", Detail: "Key (x)=(1) already exists."}
	got := pgDetail(pgErr)
	if !strings.Contains(got.Error(), "Key (x)=(1)") || !strings.Contains(got.Error(), "23505") {
		t.Fatalf("pgDetail=%q; want detail and SQLSTATE", got)
	}
	if !errors.Is(got, pgErr) {
		t.Fatalf("pgDetail must wrap the original error")
	}
}

func TestOpen_EmptyDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), " "); err == nil {
		t.Fatalf("Open with empty DSN succeeded")
	}
}

// Integration test; needs a reachable database.
func TestJournal_Integration(t *testing.T) {
	dsn := os.Getenv("DATALOADER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("DATALOADER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	j, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	source := "it-" + uuid.NewString() + ".csv"
	err = j.Record(ctx, []journal.Entry{
		{RunID: "r", Job: "it", Entity: "Candidate", Source: source, Row: 1, Fingerprint: 1 << 63, Action: result.Update, RemoteID: 5, At: time.Now()},
		{RunID: "r", Job: "it", Entity: "Candidate", Source: source, Row: 2, Fingerprint: 7, Action: result.Skip, At: time.Now()},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ok, err := j.Succeeded(ctx, source, 1, 1<<63); err != nil || !ok {
		t.Fatalf("Succeeded(row 1)=%v,%v; want true", ok, err)
	}
	if ok, err := j.Succeeded(ctx, source, 2, 7); err != nil || ok {
		t.Fatalf("Succeeded(row 2)=%v,%v; want false", ok, err)
	}
}
