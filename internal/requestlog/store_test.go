package requestlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLStoreImplementsInterfaces(_ *testing.T) {
	var _ Writer = (*SQLStore)(nil)
	var _ Reader = (*SQLStore)(nil)
	var _ Maintainer = (*SQLStore)(nil)
}

func TestSQLiteStore_WriteListDelete(t *testing.T) {
	s := newSQLiteTestStore(t)

	now := time.Now().UTC()
	entries := []Entry{
		{
			TraceID:    "trace-1",
			Kind:       KindTool,
			Operation:  "getNode",
			Caller:     "ip:203.0.113.9",
			Tier:       "anonymous",
			Outcome:    OutcomeOK,
			CacheHit:   true,
			DurationMS: 2,
			CreatedAt:  now.Add(-2 * time.Hour),
		},
		{
			TraceID:    "trace-2",
			Kind:       KindTool,
			Operation:  "searchNodes",
			Caller:     "key:9f86d081",
			Tier:       "authenticated",
			Outcome:    OutcomeOK,
			CacheHit:   false,
			DurationMS: 143,
			CreatedAt:  now.Add(-1 * time.Hour),
		},
		{
			TraceID:      "trace-3",
			Kind:         KindQuery,
			Operation:    "graphStats",
			Caller:       "key:9f86d081",
			Tier:         "authenticated",
			Outcome:      OutcomeError,
			CacheHit:     false,
			DurationMS:   5021,
			ErrorMessage: "backend timeout",
			CreatedAt:    now,
		},
	}

	for _, entry := range entries {
		if err := s.Write(context.Background(), entry); err != nil {
			t.Fatalf("write request log entry: %v", err)
		}
	}

	result, err := s.List(context.Background(), Query{Limit: 10, Offset: 0})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if result.Total != 3 || len(result.Data) != 3 {
		t.Fatalf("expected 3 logs, total=%d len=%d", result.Total, len(result.Data))
	}
	if result.Data[0].TraceID != "trace-3" {
		t.Fatalf("expected newest entry first, got %s", result.Data[0].TraceID)
	}

	filtered, err := s.List(context.Background(), Query{Limit: 10, Outcome: OutcomeError})
	if err != nil {
		t.Fatalf("list filtered logs: %v", err)
	}
	if filtered.Total != 1 || len(filtered.Data) != 1 {
		t.Fatalf("expected 1 error log, total=%d len=%d", filtered.Total, len(filtered.Data))
	}
	if filtered.Data[0].TraceID != "trace-3" {
		t.Fatalf("unexpected filtered trace id: %s", filtered.Data[0].TraceID)
	}
	if filtered.Data[0].ErrorMessage != "backend timeout" {
		t.Fatalf("unexpected error message: %s", filtered.Data[0].ErrorMessage)
	}

	byKind, err := s.List(context.Background(), Query{Limit: 10, Kind: KindTool})
	if err != nil {
		t.Fatalf("list by kind: %v", err)
	}
	if byKind.Total != 2 {
		t.Fatalf("expected 2 tool logs, got %d", byKind.Total)
	}

	deleted, err := s.Delete(context.Background(), MaintenanceQuery{Before: ptrTime(now.Add(-30 * time.Minute))})
	if err != nil {
		t.Fatalf("delete logs: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected deleted=2, got %d", deleted)
	}

	remaining, err := s.List(context.Background(), Query{Limit: 10, Offset: 0})
	if err != nil {
		t.Fatalf("list remaining logs: %v", err)
	}
	if remaining.Total != 1 || len(remaining.Data) != 1 {
		t.Fatalf("expected 1 remaining log, total=%d len=%d", remaining.Total, len(remaining.Data))
	}
	if remaining.Data[0].TraceID != "trace-3" {
		t.Fatalf("unexpected remaining trace id: %s", remaining.Data[0].TraceID)
	}
}

func TestSQLiteStore_ListPagination(t *testing.T) {
	s := newSQLiteTestStore(t)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		err := s.Write(context.Background(), Entry{
			TraceID:   "trace-" + string(rune('a'+i)),
			Kind:      KindTool,
			Operation: "getNode",
			Outcome:   OutcomeOK,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("write entry %d: %v", i, err)
		}
	}

	page, err := s.List(context.Background(), Query{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("expected total 5, got %d", page.Total)
	}
	if len(page.Data) != 2 {
		t.Fatalf("expected 2 entries on page, got %d", len(page.Data))
	}
	// Newest first: offset 2 of e,d,c,b,a is c.
	if page.Data[0].TraceID != "trace-c" {
		t.Fatalf("unexpected page start: %s", page.Data[0].TraceID)
	}
}

func TestSQLiteStore_DeleteRequiresCutoff(t *testing.T) {
	s := newSQLiteTestStore(t)

	if _, err := s.Delete(context.Background(), MaintenanceQuery{Kind: KindTool}); err == nil {
		t.Fatal("expected delete without before cutoff to fail")
	}
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("GRAPHGW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set GRAPHGW_TEST_POSTGRES_DSN to run Postgres requestlog integration tests")
	}

	s, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.Exec("DELETE FROM request_logs")
		_ = s.Close()
	})

	_, _ = s.db.Exec("DELETE FROM request_logs")

	entry := Entry{
		TraceID:    "pg-trace",
		Kind:       KindQuery,
		Operation:  "topEntities",
		Caller:     "key:2c26b46b",
		Tier:       "admin",
		Outcome:    OutcomeOK,
		CacheHit:   false,
		DurationMS: 87,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Write(context.Background(), entry); err != nil {
		t.Fatalf("write postgres log: %v", err)
	}

	result, err := s.List(context.Background(), Query{Limit: 10, Operation: "topEntities"})
	if err != nil {
		t.Fatalf("list postgres logs: %v", err)
	}
	if result.Total != 1 || len(result.Data) != 1 {
		t.Fatalf("expected 1 postgres log, total=%d len=%d", result.Total, len(result.Data))
	}
}

func TestPostgresStoreMissingDSN(t *testing.T) {
	if _, err := NewPostgresStore(""); err == nil {
		t.Fatal("expected error for missing postgres dsn")
	}
}

func newSQLiteTestStore(t *testing.T) *SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "requests.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
