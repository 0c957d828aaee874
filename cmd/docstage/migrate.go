package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/docstage/docstage/internal/loadtest"
	"github.com/docstage/docstage/internal/migrate"
)

var migrateFallbackCmd = &cobra.Command{
	Use:     "migrate-fallback",
	GroupID: "advanced",
	Short:   "Import documents stranded in the fallback area",
	Long: `Copy every document the fallback area holds into the local store, keeping
its id and creation time, then remove it from the fallback area.

Documents land in the fallback area when the local store could not be
opened. Run this once the local store works again. A document whose id is
already local is only removed from the fallback area. Unreadable records are
left in place and counted.

Examples:
  docstage migrate-fallback --dry-run
  docstage migrate-fallback --backup ~/docstage-fallback-backup`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backupDir, _ := cmd.Flags().GetString("backup")

		a := openApp(cmd, nil)
		defer a.Close()

		if !a.local.Available() {
			a.fatalf("local store is still unavailable: %v", a.local.Cause())
		}
		if a.fallback == nil {
			a.fatalf("fallback area %s cannot be opened", a.cfg.Fallback.Dir)
		}

		result, err := migrate.FromFallback(cmd.Context(), a.fallback, a.local, migrate.Options{
			DryRun: dryRun,
			Backup: backupDir,
		})
		if err != nil {
			a.fatalf("import failed: %v", err)
		}

		if jsonOut {
			printJSON(map[string]any{
				"dry_run":       dryRun,
				"imported":      result.Imported,
				"already_local": result.AlreadyLocal,
				"removed":       result.Removed,
				"corrupt":       result.Corrupt,
				"backup":        result.BackupCreated,
				"errors":        result.Errors,
			})
			return
		}

		p := printer()
		if dryRun {
			p.Title("Dry run (no changes made)")
		}
		p.Pairs([][2]string{
			{"Imported", strconv.Itoa(result.Imported)},
			{"Already local", strconv.Itoa(result.AlreadyLocal)},
			{"Removed from fallback", strconv.Itoa(result.Removed)},
			{"Unreadable", strconv.Itoa(result.Corrupt)},
		})
		if result.BackupCreated != "" {
			p.Muted("Backup written to %s", result.BackupCreated)
		}
		for _, msg := range result.Errors {
			p.Error("%s", msg)
		}
		if len(result.Errors) == 0 {
			p.Success("Fallback import complete")
		}
	},
}

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Measure ingest and sync throughput on throwaway stores",
	Long: `Ingest synthetic documents from concurrent writers into temporary local and
fallback stores, drain them to a temporary SQLite remote and query the merged
listing from concurrent readers. Real data and the configured remote are
never touched.

Examples:
  docstage loadtest
  docstage loadtest --documents 5000 --writers 16 --max-per-drain 500`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := loadtest.Options{}
		opts.Documents, _ = cmd.Flags().GetInt("documents")
		opts.Writers, _ = cmd.Flags().GetInt("writers")
		opts.Readers, _ = cmd.Flags().GetInt("readers")
		opts.QueriesEach, _ = cmd.Flags().GetInt("queries")
		opts.PayloadBytes, _ = cmd.Flags().GetInt("payload-bytes")
		opts.DerivedPct, _ = cmd.Flags().GetFloat64("derived")
		opts.MaxPerDrain, _ = cmd.Flags().GetInt("max-per-drain")
		keep, _ := cmd.Flags().GetBool("keep")

		dir, err := os.MkdirTemp("", "docstage-loadtest-*")
		if err != nil {
			fatalf("failed to create work directory: %v", err)
		}
		if !keep {
			defer os.RemoveAll(dir)
		}
		opts.Dir = dir

		p := printer()
		p.Title("Load test in %s", filepath.Clean(dir))

		start := time.Now()
		report, err := loadtest.Run(cmd.Context(), opts)
		if err != nil {
			if !keep {
				_ = os.RemoveAll(dir)
			}
			fatalf("load test failed: %v", err)
		}

		if jsonOut {
			printJSON(report)
			return
		}
		report.Print(p.Writer())
		p.Success("Finished in %v", time.Since(start).Round(time.Millisecond))
		if keep {
			p.Muted("Stores kept in %s", dir)
		}
	},
}

func init() {
	migrateFallbackCmd.Flags().Bool("dry-run", false, "Report what would be imported without changing anything")
	migrateFallbackCmd.Flags().String("backup", "", "Copy raw fallback records to this directory first")

	loadtestCmd.Flags().Int("documents", 500, "Documents to ingest")
	loadtestCmd.Flags().Int("writers", 8, "Concurrent ingesters")
	loadtestCmd.Flags().Int("readers", 4, "Concurrent listing readers")
	loadtestCmd.Flags().Int("queries", 5, "Listings per reader")
	loadtestCmd.Flags().Int("payload-bytes", 4096, "Payload size per document")
	loadtestCmd.Flags().Float64("derived", 1, "Share of documents ingested with derived data (0-1]")
	loadtestCmd.Flags().Int("max-per-drain", 100, "Documents per drain pass")
	loadtestCmd.Flags().Bool("keep", false, "Keep the temporary stores")

	rootCmd.AddCommand(migrateFallbackCmd)
	rootCmd.AddCommand(loadtestCmd)
}
