package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/store/local"
	"golang.org/x/sync/errgroup"
)

// ListAll returns the merged, duplicate-free view of every store, newest
// first.
//
// The local and fallback stores are always read; the remote store only when
// online. Remote and fallback read failures are logged and skipped so the
// listing still shows what is reachable.
func (o *Orchestrator) ListAll(ctx context.Context) ([]*document.Document, error) {
	var localDocs, remoteDocs, fallbackDocs []*document.Document

	g, gctx := errgroup.WithContext(ctx)

	if !o.localDown.Load() {
		g.Go(func() error {
			docs, err := o.local.Query(gctx, local.Filter{})
			if err != nil {
				if document.IsFatal(err) {
					o.markLocalDown(err)
					return nil
				}
				return fmt.Errorf("failed to list local documents: %w", err)
			}
			localDocs = docs
			return nil
		})
	}

	if o.remote != nil {
		g.Go(func() error {
			if !o.isOnline(gctx) {
				return nil
			}
			rctx, cancel := context.WithTimeout(gctx, o.config.RemoteTimeout)
			defer cancel()
			docs, err := o.remote.Documents(rctx)
			if err != nil {
				o.logger.Printf("WARNING: failed to list remote documents: %v", err)
				return nil
			}
			remoteDocs = docs
			return nil
		})
	}

	if o.fallback != nil {
		g.Go(func() error {
			docs, err := o.fallback.Documents()
			if err != nil {
				o.logger.Printf("WARNING: failed to list fallback documents: %v", err)
				return nil
			}
			fallbackDocs = docs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return document.Merge(remoteDocs, localDocs, fallbackDocs), nil
}

// StorageStats is an aggregate view recomputed on every call.
type StorageStats struct {
	Total          int                     `json:"total"`
	ByStatus       map[document.Status]int `json:"by_status"`
	BySource       map[string]int          `json:"by_source"`
	TotalBytes     int64                   `json:"total_bytes"`
	IsOnline       bool                    `json:"is_online"`
	LocalAvailable bool                    `json:"local_available"`
	Draining       bool                    `json:"draining"`
	QueueLength    int                     `json:"queue_length"`
	Backlog        int                     `json:"backlog"` // local documents awaiting upload
	FallbackBytes  int64                   `json:"fallback_bytes"`
	LastSyncTime   *time.Time              `json:"last_sync_time,omitempty"`
	LastCheck      *time.Time              `json:"last_check,omitempty"`
}

// Stats aggregates the merged listing.
func (o *Orchestrator) Stats(ctx context.Context) (*StorageStats, error) {
	docs, err := o.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{
		ByStatus: make(map[document.Status]int, len(document.Statuses)),
		BySource: make(map[string]int, 3),
	}
	for _, s := range document.Statuses {
		stats.ByStatus[s] = 0
	}
	for _, doc := range docs {
		stats.Total++
		stats.ByStatus[doc.Status]++
		stats.BySource[doc.Source.String()]++
		stats.TotalBytes += doc.FileSize
	}

	st := o.Status()
	stats.IsOnline = st.Online && st.NetworkOnline
	stats.LocalAvailable = st.LocalAvailable
	stats.Draining = st.Running
	stats.QueueLength = st.QueueLength

	if stats.LocalAvailable {
		last, err := o.local.LastSyncTime(ctx)
		if err != nil {
			o.logger.Printf("WARNING: failed to read last sync time: %v", err)
		}
		stats.LastSyncTime = last

		counts, err := o.local.Counts(ctx)
		if err != nil {
			o.logger.Printf("WARNING: failed to count local documents: %v", err)
		} else {
			stats.Backlog = counts.ByStatus[document.StatusProcessed]
		}
	}

	if o.fallback != nil {
		used, err := o.fallback.Usage()
		if err != nil {
			o.logger.Printf("WARNING: failed to measure fallback area: %v", err)
		}
		stats.FallbackBytes = used
	}

	if o.checker != nil {
		if at := o.checker.LastChecked(); !at.IsZero() {
			stats.LastCheck = &at
		}
	}

	return stats, nil
}

// Payload returns the stored bytes of a document from the local store, or
// from the fallback area for documents that never reached it.
func (o *Orchestrator) Payload(ctx context.Context, id string) ([]byte, error) {
	if !o.localDown.Load() {
		data, err := o.local.Payload(ctx, id)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, document.ErrRecordNotFound) {
			if !document.IsFatal(err) {
				return nil, err
			}
			o.markLocalDown(err)
		}
	}

	if o.fallback == nil {
		return nil, fmt.Errorf("payload %s: %w", id, document.ErrRecordNotFound)
	}
	rec, err := o.fallback.GetRecord(id)
	if err != nil {
		return nil, err
	}
	return rec.Payload, nil
}
