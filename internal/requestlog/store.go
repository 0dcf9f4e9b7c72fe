// Package requestlog persists per-request audit records for gateway calls.
// Entries capture who called which tool or query, whether the cache served
// it, and how the request ended. Callers are recorded as hashed limiter
// keys, never as raw credentials.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Request kinds recorded in entries.
const (
	KindTool  = "tool"
	KindQuery = "query"
)

// Outcomes recorded in entries.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
	OutcomeDenied      = "denied"
)

// Entry represents a single gateway request.
type Entry struct {
	TraceID      string    `json:"trace_id"`
	Kind         string    `json:"kind"`
	Operation    string    `json:"operation"`
	Caller       string    `json:"caller"`
	Tier         string    `json:"tier"`
	Outcome      string    `json:"outcome"`
	CacheHit     bool      `json:"cache_hit"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Writer persists request log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Query filters and paginates log listings.
type Query struct {
	Limit     int
	Offset    int
	Kind      string
	Operation string
	Outcome   string
	Since     *time.Time
}

// Result is a page of entries plus the total matching count.
type Result struct {
	Data  []Entry
	Total int
}

// Reader lists persisted request log entries.
type Reader interface {
	List(ctx context.Context, q Query) (Result, error)
}

// MaintenanceQuery selects entries for deletion. Before is required;
// the remaining filters narrow the selection.
type MaintenanceQuery struct {
	Before    *time.Time
	Kind      string
	Operation string
	Outcome   string
}

// Maintainer deletes persisted request log entries.
type Maintainer interface {
	Delete(ctx context.Context, q MaintenanceQuery) (int64, error)
}

// SQLStore persists entries to SQLite or Postgres and implements
// Writer, Reader and Maintainer.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteStore creates a SQLite-backed request log store.
// dsn can be a file path (e.g. /tmp/requests.db) or SQLite DSN.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "graphgw-requests.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite request log store: %w", err)
	}
	s := &SQLStore{db: db, dialect: "sqlite"}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore creates a Postgres-backed request log store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres request log store: %w", err)
	}
	s := &SQLStore{db: db, dialect: "postgres"}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s request log store: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS request_logs (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	kind TEXT NOT NULL,
	operation TEXT NOT NULL,
	caller TEXT,
	tier TEXT,
	outcome TEXT NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	duration_ms INTEGER NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);`

	if s.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS request_logs (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	kind TEXT NOT NULL,
	operation TEXT NOT NULL,
	caller TEXT,
	tier TEXT,
	outcome TEXT NOT NULL,
	cache_hit BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize request log schema: %w", err)
	}
	return nil
}

// Write persists one entry. A zero CreatedAt is filled with the current time.
func (s *SQLStore) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := s.bind(`INSERT INTO request_logs(trace_id, kind, operation, caller, tier, outcome, cache_hit, duration_ms, error_message, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		entry.TraceID,
		entry.Kind,
		entry.Operation,
		entry.Caller,
		entry.Tier,
		entry.Outcome,
		entry.CacheHit,
		entry.DurationMS,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write request log: %w", err)
	}
	return nil
}

// List returns entries matching q, newest first, plus the total match count.
func (s *SQLStore) List(ctx context.Context, q Query) (Result, error) {
	where, args := buildFilters(q.Kind, q.Operation, q.Outcome, q.Since, nil)

	var total int
	countQuery := s.bind("SELECT COUNT(*) FROM request_logs" + where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return Result{}, fmt.Errorf("count request logs: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	listQuery := s.bind(`SELECT trace_id, kind, operation, caller, tier, outcome, cache_hit, duration_ms, error_message, created_at
	FROM request_logs` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, listQuery, append(args, limit, offset)...)
	if err != nil {
		return Result{}, fmt.Errorf("list request logs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.TraceID,
			&e.Kind,
			&e.Operation,
			&e.Caller,
			&e.Tier,
			&e.Outcome,
			&e.CacheHit,
			&e.DurationMS,
			&e.ErrorMessage,
			&e.CreatedAt,
		); err != nil {
			return Result{}, fmt.Errorf("scan request log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate request logs: %w", err)
	}

	return Result{Data: entries, Total: total}, nil
}

// Delete removes entries matching q and returns the number deleted.
// q.Before must be set; deleting the whole table requires an explicit cutoff.
func (s *SQLStore) Delete(ctx context.Context, q MaintenanceQuery) (int64, error) {
	if q.Before == nil {
		return 0, fmt.Errorf("delete requires a before cutoff")
	}

	where, args := buildFilters(q.Kind, q.Operation, q.Outcome, nil, q.Before)
	res, err := s.db.ExecContext(ctx, s.bind("DELETE FROM request_logs"+where), args...)
	if err != nil {
		return 0, fmt.Errorf("delete request logs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted request logs: %w", err)
	}
	return deleted, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildFilters(kind, operation, outcome string, since, before *time.Time) (string, []interface{}) {
	clauses := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)

	if kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, kind)
	}
	if operation != "" {
		clauses = append(clauses, "operation = ?")
		args = append(args, operation)
	}
	if outcome != "" {
		clauses = append(clauses, "outcome = ?")
		args = append(args, outcome)
	}
	if since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, since.UTC())
	}
	if before != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, before.UTC())
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLStore) bind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var (
		b      strings.Builder
		argNum = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteString(fmt.Sprintf("$%d", argNum))
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
