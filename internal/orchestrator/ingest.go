package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/docstage/docstage/internal/document"
)

// IngestRequest is one accepted file. Content is never inspected.
type IngestRequest struct {
	FileName string
	FileType string

	// Size is the declared size; negative means use len(Payload)
	Size int64

	Payload []byte

	// Derived data computed before ingestion (optional). When present the
	// document starts processed and joins the sync backlog.
	Derived *document.Derived

	// CreatedAt overrides the creation time (zero = now)
	CreatedAt time.Time
}

// IngestResult reports where a document landed.
type IngestResult struct {
	ID     string          `json:"id"`
	Source document.Source `json:"source"`
	Status document.Status `json:"status"`
	Queued bool            `json:"queued"` // a drain was scheduled for it
}

// Ingest persists a document, local store first.
//
// Any local failure falls through to the fallback store; a
// document.ErrStorageUnavailable failure also routes every later ingest
// straight to the fallback store. Ingest fails only when both stores fail.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if !o.enter() {
		return IngestResult{}, ErrClosed
	}
	defer o.wg.Done()

	if req.FileName == "" {
		return IngestResult{}, fmt.Errorf("file name is required")
	}

	size := req.Size
	if size < 0 {
		size = int64(len(req.Payload))
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = o.now()
	}
	doc := document.New(req.FileName, req.FileType, size, req.Derived, created)
	doc.UpdatedAt = o.now()

	var localErr error
	if !o.localDown.Load() {
		id, err := o.local.Create(ctx, doc, req.Payload)
		if err == nil {
			return o.ingestedLocally(id, doc), nil
		}
		localErr = err
		if document.IsFatal(err) {
			o.markLocalDown(err)
		} else {
			o.logger.Printf("WARNING: local ingest of %s failed, using fallback: %v", req.FileName, err)
		}
	} else {
		localErr = document.ErrStorageUnavailable
	}

	if o.fallback == nil {
		return IngestResult{}, fmt.Errorf("failed to ingest %s: %w", req.FileName, localErr)
	}

	doc.Status = document.StatusPending
	if err := o.fallback.PutDocument(doc, req.Payload); err != nil {
		return IngestResult{}, fmt.Errorf("failed to ingest %s: %w", req.FileName, errors.Join(localErr, err))
	}

	o.emit(Event{Type: EventDocumentIngested, DocumentID: doc.ID, FileName: doc.FileName, Source: document.SourceFallback.String()})
	return IngestResult{ID: doc.ID, Source: document.SourceFallback, Status: document.StatusPending}, nil
}

func (o *Orchestrator) ingestedLocally(id string, doc *document.Document) IngestResult {
	res := IngestResult{ID: id, Source: document.SourceLocal, Status: doc.Status}

	if doc.Status == document.StatusProcessed && o.knownOnline() {
		o.enqueue(id)
		o.scheduleDrain(o.config.IngestDrainDelay)
		res.Queued = true
	}

	o.emit(Event{Type: EventDocumentIngested, DocumentID: id, FileName: doc.FileName, Source: document.SourceLocal.String()})
	return res
}

// IngestBatch ingests several files and groups the locally stored ones in a
// processing session. The session is nil when the local store is unusable.
// Individual failures are reported in the results and do not stop the batch.
func (o *Orchestrator) IngestBatch(ctx context.Context, name string, reqs []IngestRequest) (*document.Session, []IngestResult, []error) {
	results := make([]IngestResult, len(reqs))
	errs := make([]error, len(reqs))

	var members []string
	allReady := true
	for i, req := range reqs {
		res, err := o.Ingest(ctx, req)
		results[i], errs[i] = res, err
		if err != nil || res.Source != document.SourceLocal {
			continue
		}
		members = append(members, res.ID)
		if !document.MemberReady(res.Status) {
			allReady = false
		}
	}

	if len(members) == 0 || o.localDown.Load() {
		return nil, results, errs
	}

	session := document.NewSession(name, members, o.now())
	if allReady {
		session.Status = document.SessionCompleted
	}
	if err := o.local.CreateSession(ctx, session); err != nil {
		o.logger.Printf("WARNING: failed to record session %q: %v", name, err)
		return nil, results, errs
	}
	return session, results, errs
}

// AttachDerived stores derived data computed after ingestion. A pending
// document becomes processed and joins the sync backlog; sessions whose
// members are all processed complete.
func (o *Orchestrator) AttachDerived(ctx context.Context, id string, derived document.Derived) error {
	if o.localDown.Load() {
		return document.ErrStorageUnavailable
	}

	doc, err := o.local.Get(ctx, id)
	if err != nil {
		return err
	}

	patch := document.Patch{Metadata: derived.Metadata}
	if derived.ExtractedText != "" {
		patch.ExtractedText = &derived.ExtractedText
	}
	if derived.Thumbnail != "" {
		patch.Thumbnail = &derived.Thumbnail
	}
	if patch.Empty() {
		// Nothing was derived; the document keeps its status.
		return nil
	}
	promoted := doc.Status == document.StatusPending
	if promoted {
		s := document.StatusProcessed
		patch.Status = &s
	}

	if err := o.local.Update(ctx, id, patch); err != nil {
		return fmt.Errorf("failed to attach derived data to %s: %w", id, err)
	}

	if !promoted {
		return nil
	}

	o.completeSessions(ctx, id)

	if o.knownOnline() {
		o.enqueue(id)
		o.scheduleDrain(o.config.IngestDrainDelay)
	}
	return nil
}

// completeSessions advances active sessions containing id once every member
// is processed.
func (o *Orchestrator) completeSessions(ctx context.Context, id string) {
	sessions, err := o.local.ListSessions(ctx, document.SessionActive)
	if err != nil {
		o.logger.Printf("WARNING: failed to list active sessions: %v", err)
		return
	}

	for _, session := range sessions {
		if !slices.Contains(session.DocumentIDs, id) {
			continue
		}
		ready := true
		for _, member := range session.DocumentIDs {
			doc, err := o.local.Get(ctx, member)
			if err != nil || !document.MemberReady(doc.Status) {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if err := o.local.SetSessionStatus(ctx, session.ID, document.SessionCompleted); err != nil {
			o.logger.Printf("WARNING: failed to complete session %s: %v", session.ID, err)
		}
	}
}
