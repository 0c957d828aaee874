package main

import (
	"github.com/spf13/cobra"

	"github.com/docstage/docstage/internal/orchestrator"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push the backlog to the remote store now",
	Long: `Run one drain pass: every processed, unsynced document in the local store is
written to the remote table and marked synced.

A pass is bounded by sync.max_items and sync.max_duration. With --all, passes
repeat until the backlog is empty or a pass makes no progress.`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")

		a := openApp(cmd, nil)
		defer a.Close()

		if a.remote == nil {
			a.fatalf("no remote configured (set remote.url or --remote-url)")
		}

		var passes []orchestrator.DrainResult
		for {
			res, err := a.orch.SyncNow(cmd.Context())
			if err != nil {
				a.fatalf("sync failed: %v", err)
			}
			passes = append(passes, res)
			if !all || !res.Truncated || res.Synced == 0 {
				break
			}
		}

		if jsonOut {
			printJSON(passes)
			return
		}
		p := printer()
		for _, res := range passes {
			p.Drain(res)
		}
	},
}

var retryCmd = &cobra.Command{
	Use:     "retry [id]",
	GroupID: "sync",
	Short:   "Requeue failed documents",
	Long: `Return a failed document to the status it held before it failed. A document
restored to processed rejoins the sync backlog.

Examples:
  docstage retry 3f2a9c1e
  docstage retry --all`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			fatalf("give a document id or --all")
		}

		a := openApp(cmd, nil)
		defer a.Close()
		ctx := cmd.Context()
		p := printer()

		if all {
			n, err := a.orch.RetryFailed(ctx)
			if err != nil {
				a.fatalf("retry failed: %v", err)
			}
			if jsonOut {
				printJSON(map[string]int{"retried": n})
				return
			}
			p.Success("Requeued %d document(s)", n)
			return
		}

		id, err := a.resolveID(ctx, args[0])
		if err != nil {
			a.fatalf("%v", err)
		}
		restored, err := a.orch.Retry(ctx, id)
		if err != nil {
			a.fatalf("%v", err)
		}
		if jsonOut {
			printJSON(map[string]string{"id": id, "status": string(restored)})
			return
		}
		p.Success("%s is %s again", id, restored)
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "sync",
	Short:   "Show counts, storage health and sync state",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd, nil)
		defer a.Close()

		stats, err := a.orch.Stats(cmd.Context())
		if err != nil {
			a.fatalf("failed to compute stats: %v", err)
		}
		if jsonOut {
			printJSON(stats)
			return
		}
		printer().Stats(stats)
	},
}

func init() {
	syncCmd.Flags().Bool("all", false, "Repeat passes until the backlog is empty")
	retryCmd.Flags().Bool("all", false, "Requeue every failed document")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(statsCmd)
}
