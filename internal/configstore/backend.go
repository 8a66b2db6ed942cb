package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Backend persists the raw configuration document.
type Backend interface {
	// Read returns the stored document; ok is false when nothing is stored.
	Read(ctx context.Context) (data []byte, ok bool, err error)
	// Write replaces the stored document. Readers never see a partial write.
	Write(ctx context.Context, data []byte) error
}

// ConfigFileName is the document name inside the router home directory.
const ConfigFileName = "config.json"

// DefaultDir returns the per-user router directory: $AGENT_ROUTER_HOME if
// set, otherwise ~/.agent-router.
func DefaultDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("AGENT_ROUTER_HOME")); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".agent-router"), nil
}

// FileBackend stores the document as a JSON file.
type FileBackend struct {
	path string
}

// NewFileBackend stores the document at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the file location.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Read(context.Context) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read config file: %w", err)
	}
	return data, true, nil
}

// Write replaces the file by writing a temp file next to it and renaming
// it into place.
func (b *FileBackend) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

// SQLBackend keeps the document as a single-row snapshot in SQLite or Postgres.
type SQLBackend struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteBackend opens (or creates) a SQLite config database at dsn.
func NewSQLiteBackend(dsn string) (*SQLBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "agent-router-config.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite config store: %w", err)
	}
	b := &SQLBackend{db: db, dialect: "sqlite"}
	if err := b.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend connects to a Postgres config database at dsn.
func NewPostgresBackend(dsn string) (*SQLBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres config store: %w", err)
	}
	b := &SQLBackend{db: db, dialect: "postgres"}
	if err := b.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLBackend) init() error {
	if err := b.db.Ping(); err != nil {
		return fmt.Errorf("ping %s config store: %w", b.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS router_config (
	id INTEGER PRIMARY KEY,
	config_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`
	if b.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS router_config (
	id SMALLINT PRIMARY KEY,
	config_json TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := b.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize config schema: %w", err)
	}
	return nil
}

func (b *SQLBackend) Read(ctx context.Context) ([]byte, bool, error) {
	var raw string
	err := b.db.QueryRowContext(ctx, `SELECT config_json FROM router_config WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load config: %w", err)
	}
	return []byte(raw), true, nil
}

// Write upserts the snapshot row; the single statement is atomic.
func (b *SQLBackend) Write(ctx context.Context, data []byte) error {
	upsert := `
INSERT INTO router_config(id, config_json, updated_at)
VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET config_json = excluded.config_json, updated_at = excluded.updated_at`
	if b.dialect == "postgres" {
		upsert = `
INSERT INTO router_config(id, config_json, updated_at)
VALUES(1, $1, $2)
ON CONFLICT(id) DO UPDATE SET config_json = EXCLUDED.config_json, updated_at = EXCLUDED.updated_at`
	}
	if _, err := b.db.ExecContext(ctx, upsert, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (b *SQLBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
