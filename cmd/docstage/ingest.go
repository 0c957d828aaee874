package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/orchestrator"
	"github.com/docstage/docstage/internal/ui"
)

var ingestCmd = &cobra.Command{
	Use:     "ingest <file>...",
	GroupID: "docs",
	Short:   "Stage one or more files",
	Long: `Stage files in the local store (or the fallback area when the local store is
unavailable). When the remote is reachable processed files are uploaded before
the command returns; --no-sync leaves them for the next sync.

Files ingested with --text or --meta carry derived data and start processed,
so they join the sync backlog at once. Files without derived data stay
pending until a collaborator attaches it.

With --session all files are recorded as one processing batch.

Examples:
  docstage ingest scan.pdf
  docstage ingest receipt.jpg --text "ACME 12.00" --meta vendor=acme
  docstage ingest --session march *.pdf`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		text, _ := cmd.Flags().GetString("text")
		metaPairs, _ := cmd.Flags().GetStringArray("meta")
		fileType, _ := cmd.Flags().GetString("type")
		session, _ := cmd.Flags().GetString("session")

		meta, err := parseMeta(metaPairs)
		if err != nil {
			fatalf("%v", err)
		}
		var derived *document.Derived
		if text != "" || meta != nil {
			derived = &document.Derived{ExtractedText: text, Metadata: meta}
		}

		reqs := make([]orchestrator.IngestRequest, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				fatalf("failed to read %s: %v", path, err)
			}
			name := filepath.Base(path)
			ft := fileType
			if ft == "" {
				ft = document.DetectType(name, data)
			}
			reqs = append(reqs, orchestrator.IngestRequest{
				FileName: name,
				FileType: ft,
				Size:     int64(len(data)),
				Payload:  data,
				Derived:  derived,
			})
		}

		noSync, _ := cmd.Flags().GetBool("no-sync")

		a := openApp(cmd, nil)
		defer a.Close()
		ctx := cmd.Context()

		if !noSync {
			a.checkRemote(ctx)
		}

		var (
			results []orchestrator.IngestResult
			errs    []error
			batch   *document.Session
		)
		if session != "" {
			batch, results, errs = a.orch.IngestBatch(ctx, session, reqs)
		} else {
			for _, req := range reqs {
				res, err := a.orch.Ingest(ctx, req)
				results = append(results, res)
				errs = append(errs, err)
			}
		}

		// The coalescing timer does not outlive the command, so drain now
		if !noSync && anyQueued(results) {
			if _, err := a.orch.SyncNow(ctx); err != nil {
				a.logger.Printf("Warning: sync after ingest failed: %v", err)
			}
		}

		failed := 0
		for _, err := range errs {
			if err != nil {
				failed++
			}
		}

		if jsonOut {
			out := map[string]any{"results": results}
			if batch != nil {
				out["session"] = batch
			}
			var msgs []string
			for i, err := range errs {
				if err != nil {
					msgs = append(msgs, reqs[i].FileName+": "+err.Error())
				}
			}
			if len(msgs) > 0 {
				out["errors"] = msgs
			}
			printJSON(out)
		} else {
			p := printer()
			for i, res := range results {
				if errs[i] != nil {
					p.Error("%s: %v", reqs[i].FileName, errs[i])
					continue
				}
				p.Success("%s staged as %s (%s, %s)", reqs[i].FileName, ui.ShortID(res.ID), res.Status, res.Source)
			}
			if batch != nil {
				p.Muted("Session %s (%s) with %d document(s)", ui.ShortID(batch.ID), batch.Name, len(batch.DocumentIDs))
			}
		}

		if failed == len(reqs) {
			a.Close()
			os.Exit(1)
		}
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "Extracted text to attach")
	ingestCmd.Flags().StringArray("meta", nil, "Metadata as key=value (repeatable)")
	ingestCmd.Flags().String("type", "", "MIME type (default: detect from name and content)")
	ingestCmd.Flags().String("session", "", "Record the files as one named session")
	ingestCmd.Flags().Bool("no-sync", false, "Leave queued documents for the next sync")

	rootCmd.AddCommand(ingestCmd)
}

func anyQueued(results []orchestrator.IngestResult) bool {
	for _, r := range results {
		if r.Queued {
			return true
		}
	}
	return false
}
