package document

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle state of a processing session.
type SessionStatus string

const (
	// SessionActive means the batch is still being processed.
	SessionActive SessionStatus = "active"
	// SessionCompleted means every member document reached processed.
	SessionCompleted SessionStatus = "completed"
	// SessionSynced means the session record was mirrored remotely.
	SessionSynced SessionStatus = "synced"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionSynced:
		return true
	}
	return false
}

// Session groups documents processed together, e.g. one upload batch.
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"name,omitempty"`
	DocumentIDs []string      `json:"document_ids"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewSession creates an active session for the given documents.
func NewSession(name string, ids []string, now time.Time) *Session {
	now = now.UTC()
	members := make([]string, len(ids))
	copy(members, ids)
	return &Session{
		ID:          NewID(),
		Name:        name,
		DocumentIDs: members,
		Status:      SessionActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CheckSessionTransition enforces active -> completed -> synced.
func CheckSessionTransition(from, to SessionStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown session status %q", ErrInvalidTransition, to)
	}
	if from == to {
		return nil
	}
	if (from == SessionActive && to == SessionCompleted) || (from == SessionCompleted && to == SessionSynced) {
		return nil
	}
	return fmt.Errorf("%w: session %s -> %s", ErrInvalidTransition, from, to)
}

// MemberReady reports whether a member document counts toward completing
// its session.
func MemberReady(s Status) bool {
	return s == StatusProcessed || s == StatusSynced
}
