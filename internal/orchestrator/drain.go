package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/store/remote"
)

// Reasons a SyncNow call did not run a pass.
const (
	SkipOffline   = "offline"
	SkipBusy      = "busy"
	SkipLocalDown = "local_unavailable"
)

// DrainResult is the tally of one drain pass.
type DrainResult struct {
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Truncated bool          `json:"truncated,omitempty"` // bound reached, follow-up scheduled
	Skipped   string        `json:"skipped,omitempty"`   // non-empty when no pass ran
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// SyncNow drains the backlog and returns the tally.
//
// Returns an empty result with Skipped set when offline, when the local store
// is unusable, or when another drain is running. The pass stops early if ctx
// is cancelled; unprocessed items stay in the backlog.
func (o *Orchestrator) SyncNow(ctx context.Context) (DrainResult, error) {
	if !o.enter() {
		return DrainResult{}, ErrClosed
	}
	defer o.wg.Done()

	if o.localDown.Load() {
		return DrainResult{Skipped: SkipLocalDown}, nil
	}

	// Cheap guard check before probing; the CAS below is authoritative.
	if o.draining.Load() {
		return DrainResult{Skipped: SkipBusy}, nil
	}

	if !o.isOnline(ctx) {
		return DrainResult{Skipped: SkipOffline}, nil
	}

	if !o.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: SkipBusy}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	defer stop()
	defer cancel()

	res, err := o.drain(ctx)
	o.draining.Store(false)

	if res.Truncated || o.rerun.Swap(false) {
		o.scheduleDrain(o.config.IngestDrainDelay)
	}
	return res, err
}

// drain runs one pass. The caller holds the guard.
func (o *Orchestrator) drain(ctx context.Context) (DrainResult, error) {
	start := o.now()
	res := DrainResult{StartedAt: start}
	deadline := start.Add(o.config.MaxDrainDuration)

	o.mu.Lock()
	o.queue = nil
	o.mu.Unlock()

	backlog, err := o.local.Backlog(ctx, o.config.MaxItemsPerDrain)
	if err != nil {
		if document.IsFatal(err) {
			o.markLocalDown(err)
		}
		return res, fmt.Errorf("failed to read sync backlog: %w", err)
	}

	o.emit(Event{Type: EventSyncStarted, Count: len(backlog)})
	if len(backlog) > 0 {
		o.logger.Printf("Draining %d document(s)", len(backlog))
	}

	for i, doc := range backlog {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && o.config.ItemSpacing > 0 {
			select {
			case <-time.After(o.config.ItemSpacing):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		if o.now().After(deadline) {
			o.logger.Printf("Drain time budget reached after %d item(s)", i)
			res.Truncated = true
			break
		}

		if o.syncOne(ctx, doc) {
			res.Synced++
		} else {
			res.Failed++
		}
	}

	if len(backlog) == o.config.MaxItemsPerDrain && res.Synced+res.Failed == len(backlog) {
		// The backlog may hold more; resume in a follow-up pass.
		res.Truncated = true
	}
	if res.Synced+res.Failed == 0 {
		res.Truncated = false
	}

	if res.Synced > 0 {
		if err := o.local.SetLastSyncTime(ctx, o.now()); err != nil {
			o.logger.Printf("WARNING: failed to record last sync time: %v", err)
		}
		o.mirrorSessions(ctx)
	}

	res.Duration = o.now().Sub(start)

	o.mu.Lock()
	r := res
	o.lastResult = &r
	o.mu.Unlock()

	if len(backlog) > 0 {
		o.logger.Printf("Drain complete: synced=%d failed=%d in %v", res.Synced, res.Failed, res.Duration)
	}
	o.emit(Event{Type: EventSyncComplete, Result: &r})

	return res, nil
}

// syncOne uploads one document and records the outcome locally.
func (o *Orchestrator) syncOne(ctx context.Context, doc *document.Document) bool {
	rctx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
	_, err := o.remote.UpsertDocument(rctx, doc)
	cancel()

	if err != nil {
		o.logger.Printf("WARNING: failed to sync %s (%s): %v", doc.ID, doc.FileName, err)
		if document.IsRetryable(err) && o.checker != nil {
			// The cached online answer is stale; the next check probes again.
			o.checker.Invalidate()
		}
		o.markFailed(ctx, doc, err)
		return false
	}

	if err := o.local.MarkSynced(ctx, doc.ID, o.now()); err != nil {
		// The remote copy exists but the local store does not know it. Leave
		// the backlog so later passes are not spent re-uploading it; a retry
		// upserts in place.
		o.logger.Printf("WARNING: synced %s but failed to record it: %v", doc.ID, err)
		if document.IsFatal(err) {
			o.markLocalDown(err)
		}
		o.markFailed(ctx, doc, err)
		return false
	}

	o.emit(Event{Type: EventItemSynced, DocumentID: doc.ID, FileName: doc.FileName})
	return true
}

func (o *Orchestrator) markFailed(ctx context.Context, doc *document.Document, cause error) {
	if err := o.local.Update(ctx, doc.ID, document.StatusPatch(document.StatusFailed)); err != nil {
		o.logger.Printf("WARNING: failed to mark %s failed: %v", doc.ID, err)
	}
	o.emit(Event{Type: EventItemFailed, DocumentID: doc.ID, FileName: doc.FileName, Error: cause.Error()})
}

// mirrorSessions copies completed sessions whose members are all synced to
// the remote and marks them synced.
func (o *Orchestrator) mirrorSessions(ctx context.Context) {
	sessions, err := o.local.ListSessions(ctx, document.SessionCompleted)
	if err != nil {
		o.logger.Printf("WARNING: failed to list completed sessions: %v", err)
		return
	}

	for _, session := range sessions {
		if !o.sessionSynced(ctx, session) {
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, o.config.RemoteTimeout)
		err := o.remote.UpsertSession(rctx, remote.SessionRowFrom(session))
		cancel()
		if err != nil {
			o.logger.Printf("WARNING: failed to mirror session %s: %v", session.ID, err)
			continue
		}

		if err := o.local.SetSessionStatus(ctx, session.ID, document.SessionSynced); err != nil {
			o.logger.Printf("WARNING: failed to mark session %s synced: %v", session.ID, err)
		}
	}
}

func (o *Orchestrator) sessionSynced(ctx context.Context, session *document.Session) bool {
	for _, id := range session.DocumentIDs {
		doc, err := o.local.Get(ctx, id)
		if errors.Is(err, document.ErrRecordNotFound) {
			continue // deleted by cleanup after syncing
		}
		if err != nil {
			return false
		}
		if doc.Status != document.StatusSynced {
			return false
		}
	}
	return true
}
