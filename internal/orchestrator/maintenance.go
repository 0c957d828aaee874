package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/store/local"
)

// Retry requeues a failed document to the status it held before failing.
// A document restored to processed rejoins the backlog.
func (o *Orchestrator) Retry(ctx context.Context, id string) (document.Status, error) {
	if o.localDown.Load() {
		return "", document.ErrStorageUnavailable
	}

	restored, err := o.local.Retry(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to retry %s: %w", id, err)
	}

	if restored == document.StatusProcessed && o.knownOnline() {
		o.enqueue(id)
		o.scheduleDrain(o.config.IngestDrainDelay)
	}
	return restored, nil
}

// RetryFailed requeues every failed document and returns how many moved.
// Individual failures are logged and skipped.
func (o *Orchestrator) RetryFailed(ctx context.Context) (int, error) {
	if o.localDown.Load() {
		return 0, document.ErrStorageUnavailable
	}

	failed, err := o.local.Query(ctx, local.Filter{
		Statuses:  []document.Status{document.StatusFailed},
		Ascending: true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list failed documents: %w", err)
	}

	retried := 0
	for _, doc := range failed {
		if _, err := o.Retry(ctx, doc.ID); err != nil {
			o.logger.Printf("WARNING: %v", err)
			continue
		}
		retried++
	}

	if retried > 0 {
		o.logger.Printf("Requeued %d failed document(s)", retried)
	}
	return retried, nil
}

// Cleanup deletes synced local documents whose synced_at is older than
// retention (zero = the configured default). Unsynced documents are never
// deleted, however old.
func (o *Orchestrator) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	if o.localDown.Load() {
		return 0, document.ErrStorageUnavailable
	}
	if retention <= 0 {
		retention = o.config.Retention
	}
	cutoff := o.now().Add(-retention)

	expired, err := o.local.Query(ctx, local.Filter{
		Statuses:     []document.Status{document.StatusSynced},
		SyncedBefore: cutoff,
		Ascending:    true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find expired documents: %w", err)
	}

	removed := 0
	for _, doc := range expired {
		if doc.SyncedAt == nil || doc.Status != document.StatusSynced {
			continue
		}
		if err := o.local.Delete(ctx, doc.ID); err != nil {
			o.logger.Printf("WARNING: failed to delete expired %s: %v", doc.ID, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		o.logger.Printf("Cleanup removed %d synced document(s) older than %v", removed, retention)
	}
	o.emit(Event{Type: EventCleanup, Count: removed})
	return removed, nil
}
