package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/docstage/docstage/internal/document"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "docs",
	Short:   "List documents from every store",
	Long: `List the merged view of the remote table, the local store and the fallback
area, newest first. A document present in several stores is shown once, from
the highest-precedence store (remote, then local, then fallback).

--since accepts a duration ("36h"), a date ("2026-03-01") or a phrase
("yesterday", "last monday", "3 days ago").

Examples:
  docstage list
  docstage list --status pending,failed
  docstage list --source fallback --since yesterday`,
	Run: func(cmd *cobra.Command, args []string) {
		statusFlag, _ := cmd.Flags().GetStringSlice("status")
		sourceFlag, _ := cmd.Flags().GetString("source")
		sinceFlag, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		var statuses []document.Status
		for _, s := range statusFlag {
			st, err := document.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				fatalf("%v", err)
			}
			statuses = append(statuses, st)
		}

		var source *document.Source
		if sourceFlag != "" {
			src, err := document.ParseSource(sourceFlag)
			if err != nil {
				fatalf("%v", err)
			}
			source = &src
		}

		var since time.Time
		if sinceFlag != "" {
			t, err := parseSince(sinceFlag, time.Now())
			if err != nil {
				fatalf("%v", err)
			}
			since = t
		}

		a := openApp(cmd, nil)
		defer a.Close()

		docs, err := a.orch.ListAll(cmd.Context())
		if err != nil {
			a.fatalf("failed to list documents: %v", err)
		}

		filtered := docs[:0]
		for _, doc := range docs {
			if len(statuses) > 0 && !slices.Contains(statuses, doc.Status) {
				continue
			}
			if source != nil && doc.Source != *source {
				continue
			}
			if !since.IsZero() && doc.CreatedAt.Before(since) {
				continue
			}
			filtered = append(filtered, doc)
		}
		if limit > 0 && len(filtered) > limit {
			filtered = filtered[:limit]
		}

		if jsonOut {
			printJSON(filtered)
			return
		}
		printer().Documents(filtered)
	},
}

// parseSince resolves a --since value relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid time %q", s)
	}
	return r.Time, nil
}

func init() {
	listCmd.Flags().StringSlice("status", nil, "Only these statuses (pending, processed, synced, failed)")
	listCmd.Flags().String("source", "", "Only documents read from this store (local, remote, fallback)")
	listCmd.Flags().String("since", "", "Only documents created at or after this time")
	listCmd.Flags().IntP("limit", "n", 0, "Show at most this many documents (0 = all)")

	rootCmd.AddCommand(listCmd)
}
