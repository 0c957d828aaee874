// Command docstage stages documents locally and syncs them to a remote
// table when the network allows.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docstage/docstage/internal/ui"
)

var (
	cfgFile string
	jsonOut bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "docstage",
	Short: "Offline-first document staging with background sync",
	Long: `docstage accepts documents, keeps them in a local store and mirrors them to a
remote libSQL / Turso table whenever the remote is reachable.

Documents are written locally first. When the local store cannot be opened
they land in a fallback area and can be imported later with
"docstage migrate-fallback". Listings merge the remote table, the local store
and the fallback area.

Settings come from docstage.yaml (or .toml / .json) in the working directory
or the data directory, DOCSTAGE_* environment variables and the flags below.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "docs", Title: "Documents:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: search . and the data directory)")
	pf.String("data-dir", "", "Data directory (default: ~/.docstage)")
	pf.String("remote-url", "", "Remote libSQL URL (empty = offline only)")
	pf.String("remote-owner", "", "Owner scope for remote rows")
	pf.String("log-file", "", "Also write logs to this rotating file")
	pf.BoolVar(&jsonOut, "json", false, "Output JSON")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Only log to the log file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// printer styles output for stdout.
func printer() *ui.Printer {
	return ui.NewPrinter(os.Stdout)
}

// fatalf reports a failure on stderr and exits.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
