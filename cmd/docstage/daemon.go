package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docstage/docstage/internal/daemon"
	"github.com/docstage/docstage/internal/dashboard"
	"github.com/docstage/docstage/internal/orchestrator"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Run the background sync process",
	Long: `Run docstage in the foreground until interrupted.

The daemon:
- probes the remote every daemon.probe_interval and drains the backlog
  whenever the remote comes back
- removes synced documents past retention every daemon.cleanup_interval
- ingests files dropped into the inbox directory, moving each to
  <inbox>/.ingested/ once staged

With --dashboard an HTTP server also runs:
  GET  /api/documents   merged listing (?status=, ?source=)
  POST /api/documents   multipart upload
  GET  /api/documents/{id}/payload
                        stored bytes of one document
  GET  /api/stats       aggregate counts
  POST /api/sync        drain now
  POST /api/network     {"online": bool} platform connectivity signal
  GET  /health
  GET  /ws              WebSocket stream of sync events

With --offline the daemon starts as if the platform reported no network and
uploads nothing until POST /api/network reports it back.

Examples:
  docstage daemon
  docstage daemon --dashboard --offline
  docstage daemon --dashboard --dashboard-port 9000
  docstage daemon --inbox ~/Scans`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		offline, _ := cmd.Flags().GetBool("offline")

		events := &eventRelay{}
		a := openApp(cmd, events)
		defer a.Close()
		if offline {
			a.orch.SetNetworkOnline(false)
		}

		var server *dashboard.Server
		if withDashboard {
			server = dashboard.NewServer(a.orch, &dashboard.Config{
				Port:   a.cfg.Dashboard.Port,
				Logger: a.logs.For("dashboard"),
			})
			if err := server.Start(); err != nil {
				a.fatalf("failed to start dashboard: %v", err)
			}
			events.target.Store(server)

			_, port, _ := net.SplitHostPort(server.GetAddr())
			fmt.Printf("Dashboard: http://localhost:%s\n", port)
			fmt.Printf("WebSocket: ws://localhost:%s/ws\n", port)
		}

		d, err := daemon.NewWithConfig(a.orch, &daemon.Config{
			ProbeInterval:   a.cfg.Daemon.ProbeInterval,
			CleanupInterval: a.cfg.Daemon.CleanupInterval,
			Retention:       a.cfg.Retention.Synced,
			InboxDir:        a.cfg.Daemon.InboxDir,
			Logger:          a.logs.For("daemon"),
		})
		if err != nil {
			a.fatalf("failed to create daemon: %v", err)
		}

		fmt.Printf("Watching inbox: %s\n", a.cfg.Daemon.InboxDir)
		if a.remote == nil {
			fmt.Println("No remote configured; documents stay local.")
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			a.logger.Printf("Warning: daemon stopped: %v", err)
		}

		fmt.Println("\nShutting down...")
		if err := d.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
		if server != nil {
			events.target.Store(nil)
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping dashboard: %v\n", err)
			}
		}
		fmt.Println("Daemon stopped")
	},
}

// eventRelay forwards orchestrator events to the dashboard once it exists.
type eventRelay struct {
	target atomic.Pointer[dashboard.Server]
}

func (r *eventRelay) OnEvent(e orchestrator.Event) {
	if s := r.target.Load(); s != nil {
		s.OnEvent(e)
	}
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the HTTP dashboard")
	daemonCmd.Flags().IntP("dashboard-port", "p", 0, "Dashboard port (default: dashboard.port)")
	daemonCmd.Flags().String("inbox", "", "Inbox directory (default: <data-dir>/inbox)")
	daemonCmd.Flags().Bool("offline", false, "Start with the network marked down")

	rootCmd.AddCommand(daemonCmd)
}
