// Package remote provides the network document table docstage syncs to.
//
// The table lives in a libSQL / Turso database reached through the
// go-libsql driver. The store may be unreachable for any length of time;
// Probe never returns an error, it reports false and logs the cause.
package remote

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/docstage/docstage/internal/document"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed schema.sql
var schemaSQL string

const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Config holds configuration for the remote store.
type Config struct {
	// Owner scopes every row written and listed (required)
	Owner string

	// Timeout bounds every probe and write
	Timeout time.Duration

	// Mapper converts a document to its remote row (default: DefaultMapper)
	Mapper Mapper

	// Logger for remote activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Owner:   "default",
		Timeout: 15 * time.Second,
		Mapper:  DefaultMapper,
		Logger:  log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Store is the remote document table.
type Store struct {
	db     *sql.DB
	config *Config
}

// Open connects to a libSQL database.
//
// dbURL is a libsql:// or https:// Turso URL, or file: for a local file.
// The connection is lazy; an unreachable server is only detected by Probe or
// the first write.
func Open(dbURL, authToken string, config *Config) (*Store, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("remote url cannot be empty")
	}

	dsn := dbURL
	if authToken != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "authToken=" + url.QueryEscape(authToken)
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}

	return New(db, config)
}

// New wraps an existing database handle.
func New(db *sql.DB, config *Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Owner == "" {
		config.Owner = defaults.Owner
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Mapper == nil {
		config.Mapper = DefaultMapper
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Store{db: db, config: config}, nil
}

// Owner returns the owner scope of this store.
func (s *Store) Owner() string {
	return s.config.Owner
}

// Close closes the connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close remote database: %w", err)
	}
	return nil
}

// EnsureSchema creates the remote tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return unreachable("failed to create remote schema", err)
	}
	return nil
}

// Probe issues a minimal read against the document table.
// Any failure (network, auth, missing table) is logged and reported as false.
func (s *Store) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.config.Logger.Printf("Probe failed: %v", err)
		return false
	}
	return true
}

// UpsertDocument maps doc with the configured Mapper and writes it.
func (s *Store) UpsertDocument(ctx context.Context, doc *document.Document) (string, error) {
	return s.Upsert(ctx, s.config.Mapper(doc))
}

// Upsert writes a row and returns its remote id.
// Rows are keyed by (owner_id, local_id) so repeated uploads update in place.
func (s *Store) Upsert(ctx context.Context, row Row) (string, error) {
	if row.LocalID == "" {
		return "", fmt.Errorf("invalid remote row: local_id is required")
	}
	if row.OwnerID == "" {
		row.OwnerID = s.config.Owner
	}
	if row.ID == "" {
		row.ID = document.NewID()
	}

	issuesJSON, err := json.Marshal(row.ValidationIssues)
	if err != nil {
		return "", fmt.Errorf("failed to marshal validation issues: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	query := `
	INSERT INTO documents (
		id, owner_id, local_id, filename, original_name, file_type, file_size,
		template_id, processing_status, extracted_text, page_count,
		optimized_size, compliance_score, validation_issues,
		created_at, updated_at, processed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_id, local_id) DO UPDATE SET
		filename = excluded.filename,
		original_name = excluded.original_name,
		file_type = excluded.file_type,
		file_size = excluded.file_size,
		template_id = excluded.template_id,
		processing_status = excluded.processing_status,
		extracted_text = excluded.extracted_text,
		page_count = excluded.page_count,
		optimized_size = excluded.optimized_size,
		compliance_score = excluded.compliance_score,
		validation_issues = excluded.validation_issues,
		updated_at = excluded.updated_at,
		processed_at = excluded.processed_at
	RETURNING id
	`

	var remoteID string
	err = s.db.QueryRowContext(ctx, query,
		row.ID,
		row.OwnerID,
		row.LocalID,
		row.Filename,
		row.OriginalName,
		row.FileType,
		row.FileSize,
		nullString(row.TemplateID),
		row.ProcessingStatus,
		nullString(row.ExtractedText),
		nullInt(row.PageCount),
		nullInt(row.OptimizedSize),
		nullFloat(row.ComplianceScore),
		string(issuesJSON),
		formatTime(row.CreatedAt),
		formatTime(row.UpdatedAt),
		nullTime(row.ProcessedAt),
	).Scan(&remoteID)
	if err != nil {
		return "", unreachable(fmt.Sprintf("failed to upsert document %s", row.LocalID), err)
	}

	return remoteID, nil
}

// List returns every row owned by owner, newest first.
func (s *Store) List(ctx context.Context, owner string) ([]Row, error) {
	if owner == "" {
		owner = s.config.Owner
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, owner_id, local_id, filename, original_name, file_type, file_size,
	       template_id, processing_status, extracted_text, page_count,
	       optimized_size, compliance_score, validation_issues,
	       created_at, updated_at, processed_at
	FROM documents
	WHERE owner_id = ?
	ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, unreachable("failed to list remote documents", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var templateID, extractedText, issuesJSON, processedAt sql.NullString
		var pageCount, optimizedSize sql.NullInt64
		var score sql.NullFloat64
		var createdAt, updatedAt string

		err := rows.Scan(
			&r.ID, &r.OwnerID, &r.LocalID, &r.Filename, &r.OriginalName,
			&r.FileType, &r.FileSize, &templateID, &r.ProcessingStatus,
			&extractedText, &pageCount, &optimizedSize, &score, &issuesJSON,
			&createdAt, &updatedAt, &processedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan remote document: %w", err)
		}

		r.TemplateID = templateID.String
		r.ExtractedText = extractedText.String
		if pageCount.Valid {
			v := pageCount.Int64
			r.PageCount = &v
		}
		if optimizedSize.Valid {
			v := optimizedSize.Int64
			r.OptimizedSize = &v
		}
		if score.Valid {
			v := score.Float64
			r.ComplianceScore = &v
		}
		if issuesJSON.Valid && issuesJSON.String != "" && issuesJSON.String != "null" {
			if err := json.Unmarshal([]byte(issuesJSON.String), &r.ValidationIssues); err != nil {
				return nil, fmt.Errorf("failed to unmarshal validation issues: %w", err)
			}
		}
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		if processedAt.Valid {
			t := parseTime(processedAt.String)
			r.ProcessedAt = &t
		}

		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unreachable("error iterating remote documents", err)
	}
	return out, nil
}

// Documents lists the owner's rows as documents tagged SourceRemote.
func (s *Store) Documents(ctx context.Context) ([]*document.Document, error) {
	rows, err := s.List(ctx, s.config.Owner)
	if err != nil {
		return nil, err
	}
	docs := make([]*document.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, rows[i].ToDocument())
	}
	return docs, nil
}

// SessionRow is the remote mirror of a processing session.
type SessionRow struct {
	ID          string
	OwnerID     string
	Name        string
	DocumentIDs []string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionRowFrom converts a local session to its remote row.
func SessionRowFrom(session *document.Session) SessionRow {
	return SessionRow{
		ID:          session.ID,
		Name:        session.Name,
		DocumentIDs: session.DocumentIDs,
		Status:      string(document.SessionSynced),
		CreatedAt:   session.CreatedAt,
		UpdatedAt:   time.Now().UTC(),
	}
}

// Session converts a mirrored row back to a session.
func (r SessionRow) Session() *document.Session {
	return &document.Session{
		ID:          r.ID,
		Name:        r.Name,
		DocumentIDs: r.DocumentIDs,
		Status:      document.SessionStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// UpsertSession mirrors a session record.
func (s *Store) UpsertSession(ctx context.Context, session SessionRow) error {
	if session.OwnerID == "" {
		session.OwnerID = s.config.Owner
	}
	if session.DocumentIDs == nil {
		session.DocumentIDs = []string{}
	}
	if session.Status == "" {
		session.Status = string(document.SessionSynced)
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}
	idsJSON, err := json.Marshal(session.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal session members: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO processing_sessions (id, owner_id, name, document_ids, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_id, id) DO UPDATE SET
		name = excluded.name,
		document_ids = excluded.document_ids,
		status = excluded.status,
		updated_at = excluded.updated_at
	`,
		session.ID,
		session.OwnerID,
		nullString(session.Name),
		string(idsJSON),
		session.Status,
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return unreachable(fmt.Sprintf("failed to upsert session %s", session.ID), err)
	}
	return nil
}

// ListSessions returns the owner's mirrored sessions.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, owner_id, name, document_ids, status, created_at, updated_at
	FROM processing_sessions WHERE owner_id = ? ORDER BY created_at DESC
	`, s.config.Owner)
	if err != nil {
		return nil, unreachable("failed to list remote sessions", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var name sql.NullString
		var idsJSON, createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.OwnerID, &name, &idsJSON, &r.Status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan remote session: %w", err)
		}
		r.Name = name.String
		if err := json.Unmarshal([]byte(idsJSON), &r.DocumentIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session members: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unreachable("error iterating remote sessions", err)
	}
	return out, nil
}

func unreachable(msg string, err error) error {
	return fmt.Errorf("%s: %w: %v", msg, document.ErrRemoteUnreachable, err)
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
