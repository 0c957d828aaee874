// Package local provides the embedded durable document store for docstage.
//
// The store holds the canonical copy of every document, its binary payload,
// processing sessions and named settings. It runs on an embedded SQLite
// database (ncruces/go-sqlite3, WASM build) with WAL enabled.
//
// Architecture:
//   - Database file: <data_dir>/docstage.db
//   - WAL mode: Concurrent readers during writes
//   - Schema: documents, payloads, sessions, settings tables
//   - Indexes: status, created_at, file_type and (status, synced_at, created_at)
//     so the sync drain and retention cleanup never scan the whole table
//
// When the engine cannot be opened, callers receive a store built by
// Unavailable whose every operation fails with document.ErrStorageUnavailable.
package local

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (documents, payloads, sessions, settings)
const currentSchemaVersion = 1

// timeFormat is fixed width so stored timestamps sort lexicographically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store wraps the SQLite connection with document-specific operations.
type Store struct {
	conn  *sql.DB
	path  string
	cause error // non-nil when the store is unavailable
}

// Open creates or opens the store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads and
// the schema is applied. Any failure is reported as
// document.ErrStorageUnavailable so callers can route writes elsewhere.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	store, err := local.Open(".docstage/docstage.db")
//	if err != nil {
//	    store = local.Unavailable(err)
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", document.ErrStorageUnavailable, err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", document.ErrStorageUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", document.ErrStorageUnavailable, err)
	}

	// SQLite allows a single writer; a small pool keeps readers flowing.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if err := applyPragmas(conn); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %v", document.ErrStorageUnavailable, err)
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %v", document.ErrStorageUnavailable, err)
	}

	return s, nil
}

// Unavailable returns a store whose every operation fails with
// document.ErrStorageUnavailable. cause is kept for diagnostics.
func Unavailable(cause error) *Store {
	if cause == nil {
		cause = errors.New("not opened")
	}
	return &Store{cause: cause}
}

// Available reports whether the store is backed by an open database.
func (s *Store) Available() bool {
	return s.cause == nil && s.conn != nil
}

// Cause returns why the store is unavailable, or nil.
func (s *Store) Cause() error {
	return s.cause
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
// Returns nil for an unavailable store.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}

	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version int
	err := s.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version < currentSchemaVersion {
		if _, err := s.conn.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}
	}

	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// check returns ErrStorageUnavailable for a store that is not usable.
func (s *Store) check() error {
	if s.cause != nil {
		return fmt.Errorf("%w: %v", document.ErrStorageUnavailable, s.cause)
	}
	if s.conn == nil {
		return fmt.Errorf("%w: store closed", document.ErrStorageUnavailable)
	}
	return nil
}

// classify maps engine errors onto the shared error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sqlite3.FULL):
		return fmt.Errorf("%w: %v", document.ErrQuotaExceeded, err)
	case errors.Is(err, sqlite3.CORRUPT), errors.Is(err, sqlite3.NOTADB),
		errors.Is(err, sqlite3.CANTOPEN), errors.Is(err, sqlite3.IOERR):
		return fmt.Errorf("%w: %v", document.ErrStorageUnavailable, err)
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "database or disk is full"):
		return fmt.Errorf("%w: %v", document.ErrQuotaExceeded, err)
	case strings.Contains(msg, "sql: database is closed"):
		return fmt.Errorf("%w: %v", document.ErrStorageUnavailable, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
