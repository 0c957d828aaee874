package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docstage/docstage/internal/config"
	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/logging"
	"github.com/docstage/docstage/internal/orchestrator"
	"github.com/docstage/docstage/internal/store/fallback"
	"github.com/docstage/docstage/internal/store/local"
	"github.com/docstage/docstage/internal/store/remote"
)

// app is the set of opened stores behind one command.
type app struct {
	cfg    *config.Config
	logs   *logging.Logs
	logger *log.Logger

	local    *local.Store
	fallback *fallback.Store // nil when the fallback area cannot be created
	remote   *remote.Store   // nil when no remote is configured
	orch     *orchestrator.Orchestrator
}

// loadConfig reads settings with cmd's flags applied.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

// openApp loads settings and opens every store. Store failures degrade
// instead of aborting: an unusable local store routes ingestion to the
// fallback area and a remote that cannot be prepared is simply offline.
func openApp(cmd *cobra.Command, observer orchestrator.Observer) *app {
	cfg := loadConfig(cmd)

	logs := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      quiet && cfg.Log.File != "",
	})

	a := &app{cfg: cfg, logs: logs, logger: logs.For("docstage")}

	localStore, err := local.Open(cfg.Local.Path)
	if err != nil {
		a.logger.Printf("Warning: local store unavailable, using fallback: %v", err)
		localStore = local.Unavailable(err)
	}
	a.local = localStore

	fb, err := fallback.Open(cfg.Fallback.Dir, cfg.Fallback.MaxBytes)
	if err != nil {
		a.logger.Printf("Warning: fallback area unavailable: %v", err)
	} else {
		a.fallback = fb
	}

	if cfg.Remote.URL != "" {
		rs, err := remote.Open(cfg.Remote.URL, cfg.Remote.AuthToken, &remote.Config{
			Owner:   cfg.Remote.Owner,
			Timeout: cfg.Remote.Timeout,
			Logger:  logs.For("remote"),
		})
		if err != nil {
			a.logger.Printf("Warning: remote store disabled: %v", err)
		} else {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.Timeout)
			if err := rs.EnsureSchema(ctx); err != nil {
				a.logger.Printf("Warning: failed to prepare remote schema (will retry on sync): %v", err)
			}
			cancel()
			a.remote = rs
		}
	}

	// Typed nils must not reach the interfaces
	var remoteStore orchestrator.RemoteStore
	if a.remote != nil {
		remoteStore = a.remote
	}
	var fallbackStore orchestrator.FallbackStore
	if a.fallback != nil {
		fallbackStore = a.fallback
	}

	orch, err := orchestrator.New(a.local, remoteStore, fallbackStore, &orchestrator.Config{
		IngestDrainDelay: cfg.Sync.IngestDelay,
		SettleDelay:      cfg.Sync.SettleDelay,
		ItemSpacing:      cfg.Sync.ItemSpacing,
		MaxItemsPerDrain: cfg.Sync.MaxItems,
		MaxDrainDuration: cfg.Sync.MaxDuration,
		RemoteTimeout:    cfg.Remote.Timeout,
		ProbeTTL:         cfg.Sync.ProbeTTL,
		Retention:        cfg.Retention.Synced,
		Observer:         observer,
		Logger:           logs.For("sync"),
	})
	if err != nil {
		a.Close()
		fatalf("failed to start: %v", err)
	}
	a.orch = orch
	return a
}

// checkRemote asks the remote whether it is reachable. A fresh process has
// no connectivity answer cached, and documents staged without one are not
// queued for the post-ingest drain.
func (a *app) checkRemote(ctx context.Context) bool {
	if a.remote == nil {
		return false
	}
	return a.orch.CheckConnectivity(ctx)
}

// Close stops the orchestrator and closes every store.
func (a *app) Close() {
	if a.orch != nil {
		_ = a.orch.Close()
	}
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			a.logger.Printf("Warning: failed to close remote store: %v", err)
		}
	}
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			a.logger.Printf("Warning: failed to close local store: %v", err)
		}
	}
	_ = a.logs.Close()
}

// fatalf closes the app before exiting so the local store is checkpointed.
func (a *app) fatalf(format string, args ...any) {
	a.Close()
	fatalf(format, args...)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("failed to encode output: %v", err)
	}
}

// parseMeta turns key=value pairs into a metadata map.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q (want key=value)", p)
		}
		meta[k] = v
	}
	return meta, nil
}

// resolveID accepts a full local document id or an unambiguous prefix of
// one, such as the short ids printed by list.
func (a *app) resolveID(ctx context.Context, arg string) (string, error) {
	if _, err := a.local.Get(ctx, arg); err == nil {
		return arg, nil
	} else if !errors.Is(err, document.ErrRecordNotFound) {
		return "", err
	}

	docs, err := a.local.Query(ctx, local.Filter{})
	if err != nil {
		return "", fmt.Errorf("failed to look up %s: %w", arg, err)
	}
	var matches []string
	for _, doc := range docs {
		if strings.HasPrefix(doc.ID, arg) {
			matches = append(matches, doc.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no local document matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q matches %d documents, give more of the id", arg, len(matches))
	}
}
