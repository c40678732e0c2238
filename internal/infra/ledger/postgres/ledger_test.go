package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"songmigration/internal/infra/ledger/postgres/testutil"
	"songmigration/internal/ledger/core"
)

func newStubLedger(t *testing.T) (*Ledger, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	orig := sqlOpen
	sqlOpen = func(driverName, dsn string) (*sql.DB, error) {
		if driverName != "pgx" || dsn != defaultDSN {
			t.Fatalf("unexpected open %s %s", driverName, dsn)
		}
		return db, nil
	}
	t.Cleanup(func() { sqlOpen = orig })
	l, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, conn
}

func TestLedgerCreatesSchema(t *testing.T) {
	_, conn := newStubLedger(t)
	if len(conn.Execs) != 1 || !strings.HasPrefix(conn.Execs[0], "CREATE TABLE IF NOT EXISTS checkpoints") {
		t.Fatalf("unexpected statements %v", conn.Execs)
	}
}

func TestLedgerUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	l, conn := newStubLedger(t)
	ts := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	cp := core.Checkpoint{RunKey: "run", AnalysisID: "B", StudyID: "PACA-CA", State: "unpublished", AttemptID: "x", UpdatedAt: ts}
	if err := l.Save(ctx, cp); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp.State, cp.FilesDone = "files_patched", 3
	if err := l.Save(ctx, cp); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_ = l.Save(ctx, core.Checkpoint{RunKey: "run", AnalysisID: "A", State: "published", UpdatedAt: ts})
	_ = l.Save(ctx, core.Checkpoint{RunKey: "other", AnalysisID: "B", State: "published", UpdatedAt: ts})
	if n := len(conn.Tables["checkpoints"]); n != 3 {
		t.Fatalf("expected 3 rows after upsert, got %d", n)
	}

	got, err := l.Get(ctx, "run", "B")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(cp, got); diff != "" {
		t.Fatalf("checkpoint mismatch (-want +got):\n%s", diff)
	}
	if _, err := l.Get(ctx, "run", "C"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, err := l.List(ctx, "run")
	if err != nil || len(list) != 2 || list[0].AnalysisID != "A" || list[1].AnalysisID != "B" {
		t.Fatalf("unexpected list %v %+v", err, list)
	}
	if err := l.Save(ctx, core.Checkpoint{RunKey: "run"}); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestNewPingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	orig := sqlOpen
	sqlOpen = func(string, string) (*sql.DB, error) { return db, nil }
	defer func() { sqlOpen = orig }()
	if _, err := New(context.Background(), "postgres://x"); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestSaveExecFailure(t *testing.T) {
	l, conn := newStubLedger(t)
	conn.FailExec = true
	if err := l.Save(context.Background(), core.Checkpoint{RunKey: "r", AnalysisID: "a"}); err == nil {
		t.Fatalf("expected exec error")
	}
}
