package audit

import (
	"context"
	"fmt"
	"testing"

	"hookhub/internal/config"
	"hookhub/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "hookhub_audit_test",
		Path:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return s
}

func countAuditRows(t *testing.T, s *store.Store) int {
	t.Helper()
	var n int
	if err := s.DB.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM _audit_log").Scan(&n); err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	return n
}

func TestBuffer_FlushOnStop(t *testing.T) {
	s := newTestStore(t)

	b := NewBuffer(s, 100, 60_000)
	b.Record("admin@localhost", "manifest.update", "qtile", "revision abc")
	b.Record("admin@localhost", "policy.create", "", "pinned-revs")
	b.Stop()

	if n := countAuditRows(t, s); n != 2 {
		t.Fatalf("expected 2 audit rows after stop, got %d", n)
	}

	row, err := store.QueryRow(context.Background(), s.DB,
		"SELECT actor, action, project, detail FROM _audit_log WHERE action = 'manifest.update'")
	if err != nil {
		t.Fatalf("query entry: %v", err)
	}
	if row["actor"] != "admin@localhost" || row["project"] != "qtile" || row["detail"] != "revision abc" {
		t.Fatalf("unexpected entry: %+v", row)
	}
}

func TestBuffer_ExplicitFlush(t *testing.T) {
	s := newTestStore(t)

	b := NewBuffer(s, 100, 60_000)
	defer b.Stop()

	for i := 0; i < 5; i++ {
		b.Record("", "manifest.update", fmt.Sprintf("p%d", i), "")
	}
	b.Flush()

	if n := countAuditRows(t, s); n != 5 {
		t.Fatalf("expected 5 audit rows after flush, got %d", n)
	}

	// Flushing an empty buffer is a no-op
	b.Flush()
	if n := countAuditRows(t, s); n != 5 {
		t.Fatalf("expected row count unchanged, got %d", n)
	}
}

func TestCleaner_Sweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// One fresh row and one past the retention window
	pb := s.Dialect.NewParamBuilder()
	query := fmt.Sprintf(
		"INSERT INTO _audit_log (id, actor, action, project, detail, created_at) VALUES (%s, '', 'old', '', '', datetime('now', '-40 days'))",
		pb.Add(store.GenerateUUID()))
	if _, err := store.Exec(ctx, s.DB, query, pb.Params()...); err != nil {
		t.Fatalf("insert old row: %v", err)
	}

	b := NewBuffer(s, 100, 60_000)
	b.Record("", "fresh", "", "")
	b.Stop()

	removed := NewCleaner(s, 30).Sweep()
	if removed != 1 {
		t.Fatalf("expected 1 expired row removed, got %d", removed)
	}
	if n := countAuditRows(t, s); n != 1 {
		t.Fatalf("expected fresh row to survive, got %d rows", n)
	}
}
