package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docstage/docstage/internal/document"
)

// CreateSession inserts a processing session.
func (s *Store) CreateSession(ctx context.Context, session *document.Session) error {
	if err := s.check(); err != nil {
		return err
	}
	if session.ID == "" {
		return fmt.Errorf("invalid session: id is required")
	}

	idsJSON, err := json.Marshal(session.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal session members: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO sessions (id, name, document_ids, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`,
		session.ID,
		nullString(session.Name),
		string(idsJSON),
		string(session.Status),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return classify(fmt.Errorf("failed to insert session %s: %w", session.ID, err))
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*document.Session, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	row := s.conn.QueryRowContext(ctx, `
	SELECT id, name, document_ids, status, created_at, updated_at
	FROM sessions WHERE id = ?
	`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, document.ErrRecordNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return session, nil
}

// ListSessions returns sessions newest first, optionally filtered by status.
func (s *Store) ListSessions(ctx context.Context, status document.SessionStatus) ([]*document.Session, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	query := `SELECT id, name, document_ids, status, created_at, updated_at FROM sessions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list sessions: %w", err))
	}
	defer rows.Close()

	var sessions []*document.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// SetSessionStatus advances a session through active -> completed -> synced.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status document.SessionStatus) error {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := document.CheckSessionTransition(session.Status, status); err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}

	_, err = s.conn.ExecContext(ctx, `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return classify(fmt.Errorf("failed to update session %s: %w", id, err))
	}
	return nil
}

func scanSession(row scanner) (*document.Session, error) {
	var session document.Session
	var name sql.NullString
	var idsJSON, status, createdAt, updatedAt string

	if err := row.Scan(&session.ID, &name, &idsJSON, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	session.Name = name.String
	session.Status = document.SessionStatus(status)
	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(idsJSON), &session.DocumentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session members: %w", err)
	}
	if session.DocumentIDs == nil {
		session.DocumentIDs = []string{}
	}
	return &session, nil
}
