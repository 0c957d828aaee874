package orchestrator

import (
	"context"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/store/fallback"
	"github.com/docstage/docstage/internal/store/local"
	"github.com/docstage/docstage/internal/store/remote"
)

// LocalStore is the durable store that owns payloads and lifecycle state.
// *local.Store implements it.
type LocalStore interface {
	Create(ctx context.Context, doc *document.Document, payload []byte) (string, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	Payload(ctx context.Context, id string) ([]byte, error)
	Update(ctx context.Context, id string, patch document.Patch) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
	Retry(ctx context.Context, id string) (document.Status, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, filter local.Filter) ([]*document.Document, error)
	Backlog(ctx context.Context, limit int) ([]*document.Document, error)
	Counts(ctx context.Context) (*local.Counts, error)

	CreateSession(ctx context.Context, session *document.Session) error
	GetSession(ctx context.Context, id string) (*document.Session, error)
	ListSessions(ctx context.Context, status document.SessionStatus) ([]*document.Session, error)
	SetSessionStatus(ctx context.Context, id string, status document.SessionStatus) error

	LastSyncTime(ctx context.Context) (*time.Time, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// RemoteStore is the network document table. *remote.Store implements it.
type RemoteStore interface {
	Probe(ctx context.Context) bool
	UpsertDocument(ctx context.Context, doc *document.Document) (string, error)
	Documents(ctx context.Context) ([]*document.Document, error)
	UpsertSession(ctx context.Context, session remote.SessionRow) error
}

// FallbackStore holds documents when the local store is unusable.
// *fallback.Store implements it.
type FallbackStore interface {
	PutDocument(doc *document.Document, payload []byte) error
	Documents() ([]*document.Document, error)
	GetRecord(id string) (*fallback.Record, error)
	Usage() (int64, error)
}

// availability is implemented by stores that know up front they cannot serve.
type availability interface {
	Available() bool
}
