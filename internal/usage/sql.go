package usage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ferro-labs/agent-router/internal/routeerr"
)

// SQLStore persists the ledger to SQLite or Postgres. Appends are serialized
// by a mutex and run insert plus eviction inside one transaction.
type SQLStore struct {
	db       *sql.DB
	dialect  string
	capacity int
	mu       sync.Mutex
}

// NewSQLiteStore opens (or creates) a SQLite ledger at dsn.
func NewSQLiteStore(dsn string, capacity int) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "usage.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite usage store: %w", err)
	}
	// One connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := newSQLStore(db, "sqlite", capacity)
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore connects to a Postgres ledger at dsn.
func NewPostgresStore(dsn string, capacity int) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres usage store: %w", err)
	}
	s := newSQLStore(db, "postgres", capacity)
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLStore(db *sql.DB, dialect string, capacity int) *SQLStore {
	if capacity <= 0 {
		capacity = DefaultRetention
	}
	return &SQLStore{db: db, dialect: dialect, capacity: capacity}
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s usage store: %w", s.dialect, err)
	}

	idColumn, costType := "id INTEGER PRIMARY KEY", "REAL"
	if s.dialect == "postgres" {
		idColumn, costType = "id BIGSERIAL PRIMARY KEY", "DOUBLE PRECISION"
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS usage_records (
	` + idColumn + `,
	record_id TEXT NOT NULL,
	created_at_ns BIGINT NOT NULL,
	project_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	task_type TEXT NOT NULL,
	model TEXT NOT NULL,
	provider TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	cost ` + costType + ` NOT NULL,
	latency_ms BIGINT NOT NULL,
	success BOOLEAN NOT NULL,
	routing_reason TEXT NOT NULL,
	error_message TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_created ON usage_records(created_at_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_project ON usage_records(project_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize usage schema: %w", err)
		}
	}
	return nil
}

const recordColumns = `record_id, created_at_ns, project_id, agent_id, agent_type, task_type, model, provider,
	input_tokens, output_tokens, total_tokens, cost, latency_ms, success, routing_reason, error_message`

// Append inserts rec and trims the table back to the retention cap.
func (s *SQLStore) Append(ctx context.Context, rec Record) error {
	rec = prepare(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &routeerr.PersistenceError{Op: "begin usage append", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	insert := `INSERT INTO usage_records(` + recordColumns + `)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, s.bind(insert),
		rec.ID,
		rec.Timestamp.UnixNano(),
		rec.ProjectID,
		rec.AgentID,
		rec.AgentType,
		rec.TaskType,
		rec.Model,
		rec.Provider,
		rec.Tokens.Input,
		rec.Tokens.Output,
		rec.Tokens.Total,
		rec.Cost,
		rec.LatencyMs,
		rec.Success,
		rec.RoutingReason,
		rec.Error,
	)
	if err != nil {
		return &routeerr.PersistenceError{Op: "insert usage record", Err: err}
	}

	// The subquery yields the newest id that falls outside the cap, or NULL
	// while the table is still within it.
	evict := `DELETE FROM usage_records WHERE id <= (SELECT id FROM usage_records ORDER BY id DESC LIMIT 1 OFFSET ?)`
	if _, err := tx.ExecContext(ctx, s.bind(evict), s.capacity); err != nil {
		return &routeerr.PersistenceError{Op: "evict usage records", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &routeerr.PersistenceError{Op: "commit usage append", Err: err}
	}
	return nil
}

// Record appends rec, logging and counting any failure instead of returning it.
func (s *SQLStore) Record(ctx context.Context, rec Record) {
	recordBestEffort(ctx, s, rec)
}

// Query returns the records matching f in append order.
func (s *SQLStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	where, args := whereClause(f)
	query := `SELECT ` + recordColumns + ` FROM usage_records` + where + ` ORDER BY id ASC`
	return s.selectRecords(ctx, query, args...)
}

// Aggregate summarizes the records matching f.
func (s *SQLStore) Aggregate(ctx context.Context, f Filter) (Aggregate, error) {
	records, err := s.Query(ctx, f)
	if err != nil {
		return Aggregate{}, err
	}
	return Summarize(records), nil
}

// Recent returns up to limit records, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + recordColumns + ` FROM usage_records ORDER BY id DESC LIMIT ?`
	return s.selectRecords(ctx, query, limit)
}

// Len returns the number of stored records.
func (s *SQLStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_records`).Scan(&n); err != nil {
		return 0, &routeerr.PersistenceError{Op: "count usage records", Err: err}
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) selectRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, &routeerr.PersistenceError{Op: "query usage records", Err: err}
	}
	defer func() { _ = rows.Close() }()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec       Record
			createdNs int64
		)
		if err := rows.Scan(
			&rec.ID,
			&createdNs,
			&rec.ProjectID,
			&rec.AgentID,
			&rec.AgentType,
			&rec.TaskType,
			&rec.Model,
			&rec.Provider,
			&rec.Tokens.Input,
			&rec.Tokens.Output,
			&rec.Tokens.Total,
			&rec.Cost,
			&rec.LatencyMs,
			&rec.Success,
			&rec.RoutingReason,
			&rec.Error,
		); err != nil {
			return nil, &routeerr.PersistenceError{Op: "scan usage record", Err: err}
		}
		rec.Timestamp = time.Unix(0, createdNs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &routeerr.PersistenceError{Op: "iterate usage records", Err: err}
	}
	return out, nil
}

func whereClause(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if tr := f.TimeRange; tr != nil {
		if !tr.Start.IsZero() {
			conds = append(conds, "created_at_ns >= ?")
			args = append(args, tr.Start.UnixNano())
		}
		if !tr.End.IsZero() {
			conds = append(conds, "created_at_ns <= ?")
			args = append(args, tr.End.UnixNano())
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// bind rewrites ? placeholders to $N for Postgres.
func (s *SQLStore) bind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
