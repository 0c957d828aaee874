package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/store/local"
)

var attachCmd = &cobra.Command{
	Use:     "attach <id>",
	GroupID: "docs",
	Short:   "Attach derived data to a staged document",
	Long: `Store extracted text, metadata or a thumbnail computed after ingestion. A
pending document becomes processed and joins the sync backlog; when the
remote is reachable it is uploaded before the command returns.

Examples:
  docstage attach 3f2a9c1e --text "Invoice 1042" --meta total=99.50`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		text, _ := cmd.Flags().GetString("text")
		metaPairs, _ := cmd.Flags().GetStringArray("meta")
		thumbnail, _ := cmd.Flags().GetString("thumbnail")
		noSync, _ := cmd.Flags().GetBool("no-sync")

		meta, err := parseMeta(metaPairs)
		if err != nil {
			fatalf("%v", err)
		}
		derived := document.Derived{ExtractedText: text, Metadata: meta, Thumbnail: thumbnail}
		if derived.Empty() {
			fatalf("nothing to attach (use --text, --meta or --thumbnail)")
		}

		a := openApp(cmd, nil)
		defer a.Close()
		ctx := cmd.Context()

		id, err := a.resolveID(ctx, args[0])
		if err != nil {
			a.fatalf("%v", err)
		}
		if !noSync {
			a.checkRemote(ctx)
		}
		if err := a.orch.AttachDerived(ctx, id, derived); err != nil {
			a.fatalf("%v", err)
		}
		if !noSync && a.orch.Status().QueueLength > 0 {
			if _, err := a.orch.SyncNow(ctx); err != nil {
				a.logger.Printf("Warning: sync after attach failed: %v", err)
			}
		}

		doc, err := a.local.Get(ctx, id)
		if err != nil {
			a.fatalf("%v", err)
		}
		if jsonOut {
			printJSON(doc)
			return
		}
		printer().Success("Attached derived data to %s (%s)", id, doc.Status)
	},
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	GroupID: "docs",
	Short:   "List processing sessions",
	Run: func(cmd *cobra.Command, args []string) {
		statusFlag, _ := cmd.Flags().GetString("status")
		status := document.SessionStatus(statusFlag)
		if status != "" && !status.Valid() {
			fatalf("invalid session status %q (want active, completed or synced)", statusFlag)
		}

		fromRemote, _ := cmd.Flags().GetBool("remote")

		a := openApp(cmd, nil)
		defer a.Close()

		var sessions []*document.Session
		if fromRemote {
			if a.remote == nil {
				a.fatalf("no remote configured (set remote.url or --remote-url)")
			}
			rows, err := a.remote.ListSessions(cmd.Context())
			if err != nil {
				a.fatalf("failed to list remote sessions: %v", err)
			}
			for _, row := range rows {
				if status == "" || document.SessionStatus(row.Status) == status {
					sessions = append(sessions, row.Session())
				}
			}
		} else {
			var err error
			sessions, err = a.local.ListSessions(cmd.Context(), status)
			if err != nil {
				a.fatalf("failed to list sessions: %v", err)
			}
		}
		if jsonOut {
			printJSON(sessions)
			return
		}
		printer().Sessions(sessions)
	},
}

var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	GroupID: "sync",
	Short:   "Delete synced documents past retention",
	Long: `Remove local copies of documents that were synced longer ago than the
retention period (retention.synced, default 30 days). Unsynced documents are
never removed, however old.

An interactive terminal is asked for confirmation; elsewhere pass --yes.`,
	Run: func(cmd *cobra.Command, args []string) {
		retention, _ := cmd.Flags().GetDuration("retention")
		yes, _ := cmd.Flags().GetBool("yes")

		a := openApp(cmd, nil)
		defer a.Close()
		ctx := cmd.Context()

		if retention <= 0 {
			retention = a.cfg.Retention.Synced
		}
		expired, err := a.local.Query(ctx, local.Filter{
			Statuses:     []document.Status{document.StatusSynced},
			SyncedBefore: time.Now().Add(-retention),
		})
		if err != nil {
			a.fatalf("failed to find expired documents: %v", err)
		}
		p := printer()
		if len(expired) == 0 {
			if jsonOut {
				printJSON(map[string]int{"removed": 0})
				return
			}
			p.Muted("Nothing synced more than %v ago.", retention)
			return
		}

		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				a.fatalf("%d document(s) would be removed; pass --yes to confirm", len(expired))
			}
			confirmed := false
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Remove %d synced document(s) older than %v?", len(expired), retention)).
				Description("Remote copies are kept.").
				Affirmative("Remove").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				a.fatalf("prompt failed: %v", err)
			}
			if !confirmed {
				p.Muted("Cancelled.")
				return
			}
		}

		removed, err := a.orch.Cleanup(ctx, retention)
		if err != nil {
			a.fatalf("cleanup failed: %v", err)
		}
		if jsonOut {
			printJSON(map[string]int{"removed": removed})
			return
		}
		p.Success("Removed %d document(s)", removed)
	},
}

func init() {
	attachCmd.Flags().String("text", "", "Extracted text")
	attachCmd.Flags().StringArray("meta", nil, "Metadata as key=value (repeatable)")
	attachCmd.Flags().String("thumbnail", "", "Thumbnail reference")
	attachCmd.Flags().Bool("no-sync", false, "Leave the document for the next sync")

	sessionsCmd.Flags().String("status", "", "Only sessions in this status")
	sessionsCmd.Flags().Bool("remote", false, "List the sessions mirrored to the remote instead")

	cleanupCmd.Flags().Duration("retention", 0, "Age past which synced documents are removed (default: retention.synced)")
	cleanupCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(cleanupCmd)
}
