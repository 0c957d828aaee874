package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/orchestrator"
)

// ArchiveDir is the inbox subdirectory ingested files are moved to.
const ArchiveDir = ".ingested"

// ScanInbox ingests every file already waiting in the inbox and returns how
// many were ingested. Individual failures are logged and skipped.
func (d *Daemon) ScanInbox(ctx context.Context) (int, error) {
	if d.config.InboxDir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(d.config.InboxDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read inbox: %w", err)
	}

	ingested := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(d.config.InboxDir, entry.Name())
		if _, err := d.ingestFile(ctx, path); err != nil {
			d.config.Logger.Printf("Warning: failed to ingest %s: %v", entry.Name(), err)
			continue
		}
		ingested++
	}

	if ingested > 0 {
		d.config.Logger.Printf("Ingested %d file(s) from inbox", ingested)
	}
	return ingested, nil
}

// ingestFile ingests one inbox file and archives it.
func (d *Daemon) ingestFile(ctx context.Context, path string) (orchestrator.IngestResult, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return orchestrator.IngestResult{}, fmt.Errorf("file disappeared before ingestion")
	}
	if err != nil {
		return orchestrator.IngestResult{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return orchestrator.IngestResult{}, fmt.Errorf("not a regular file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return orchestrator.IngestResult{}, fmt.Errorf("failed to read file: %w", err)
	}

	name := filepath.Base(path)
	res, err := d.orch.Ingest(ctx, orchestrator.IngestRequest{
		FileName: name,
		FileType: document.DetectType(name, data),
		Size:     int64(len(data)),
		Payload:  data,
	})
	if err != nil {
		return orchestrator.IngestResult{}, err
	}

	d.config.Logger.Printf("Ingested %s as %s (%s)", name, res.ID, res.Source)

	if err := archive(d.config.InboxDir, path, res.ID); err != nil {
		d.config.Logger.Printf("Warning: ingested %s but failed to archive it: %v", name, err)
	}
	return res, nil
}

// archive moves an ingested file under ArchiveDir so it is not ingested
// again. A name clash gets the document id as prefix.
func archive(inbox, path, id string) error {
	dir := filepath.Join(inbox, ArchiveDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(dir, id+"_"+filepath.Base(path))
	}
	return os.Rename(path, dest)
}
