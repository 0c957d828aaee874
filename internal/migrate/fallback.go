// Package migrate moves documents stranded in the fallback area into the
// local store once it is usable again.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/store/fallback"
)

// LocalTarget is the local store surface the import writes to.
type LocalTarget interface {
	Get(ctx context.Context, id string) (*document.Document, error)
	Create(ctx context.Context, doc *document.Document, payload []byte) (string, error)
}

// Options contains configuration for a fallback import
type Options struct {
	DryRun bool   // Preview without writing
	Backup string // Directory to copy raw records to before import (empty = none)
}

// Result contains statistics about the import
type Result struct {
	Imported      int      // records copied into the local store
	AlreadyLocal  int      // records whose id already existed locally
	Removed       int      // records deleted from the fallback area
	Corrupt       int      // unreadable records left in place
	BackupCreated string   // backup directory, when one was written
	Errors        []string // per-record failures
}

// ImportDocument converts a fallback record into the document the local
// store should hold. Id and creation time are kept; a record carrying
// derived data comes back processed so it joins the sync backlog.
func ImportDocument(rec *fallback.Record, now time.Time) *document.Document {
	doc := rec.Document()
	doc.Source = document.SourceLocal
	doc.Status = document.StatusPending
	if doc.ExtractedText != "" || len(doc.Metadata) > 0 || doc.Thumbnail != "" {
		doc.Status = document.StatusProcessed
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = now.UTC()
	return doc
}

// FromFallback copies every fallback document into target and removes the
// copied records from the fallback area. A record whose id is already local
// is removed without copying. Failures are collected per record; the import
// continues past them.
func FromFallback(ctx context.Context, src *fallback.Store, target LocalTarget, opts Options) (*Result, error) {
	result := &Result{}

	records, corrupt, err := src.Records()
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback records: %w", err)
	}
	result.Corrupt = corrupt

	if opts.Backup != "" && !opts.DryRun && len(records) > 0 {
		if err := backup(src, opts.Backup, records); err != nil {
			return nil, err
		}
		result.BackupCreated = opts.Backup
	}

	now := time.Now()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		_, err := target.Get(ctx, rec.ID)
		switch {
		case err == nil:
			result.AlreadyLocal++
		case errors.Is(err, document.ErrRecordNotFound):
			if opts.DryRun {
				result.Imported++
				continue
			}
			if _, err := target.Create(ctx, ImportDocument(rec, now), rec.Payload); err != nil {
				if document.IsFatal(err) {
					return result, fmt.Errorf("local store unavailable: %w", err)
				}
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to import %s: %v", rec.ID, err))
				continue
			}
			result.Imported++
		default:
			if document.IsFatal(err) {
				return result, fmt.Errorf("local store unavailable: %w", err)
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to check %s: %v", rec.ID, err))
			continue
		}

		if opts.DryRun {
			continue
		}
		if err := src.DeleteDocument(rec.ID); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to remove fallback record %s: %v", rec.ID, err))
			continue
		}
		result.Removed++
	}

	return result, nil
}

// backup copies the raw record files into dir.
func backup(src *fallback.Store, dir string, records []*fallback.Record) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	for _, rec := range records {
		key := fallback.DocumentKey(rec.ID)
		data, err := src.Get(key)
		if err != nil {
			return fmt.Errorf("failed to read %s for backup: %w", key, err)
		}
		if err := os.WriteFile(filepath.Join(dir, key+".json"), data, 0600); err != nil {
			return fmt.Errorf("failed to write backup of %s: %w", key, err)
		}
	}
	return nil
}
