// Package daemon runs docstage in the background.
//
// The daemon:
//  1. Probes remote connectivity on an interval, which drains the backlog on
//     every offline to online transition
//  2. Removes expired synced documents on an interval
//  3. Ingests files dropped into an inbox directory
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/docstage/docstage/internal/orchestrator"
)

// Orchestrator is the subset of *orchestrator.Orchestrator the daemon drives.
type Orchestrator interface {
	Ingest(ctx context.Context, req orchestrator.IngestRequest) (orchestrator.IngestResult, error)
	CheckConnectivity(ctx context.Context) bool
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// ProbeInterval is how often to probe the remote store
	ProbeInterval time.Duration

	// CleanupInterval is how often to remove expired synced documents
	CleanupInterval time.Duration

	// Retention is the age past which synced documents are removed
	// (0 = the orchestrator default)
	Retention time.Duration

	// InboxDir is watched for dropped files (empty = no inbox)
	InboxDir string

	// DebounceInterval is how long a file must be quiet before it is ingested.
	// This lets writers finish before the file is read.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:    30 * time.Second,
		CleanupInterval:  6 * time.Hour,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon drives an orchestrator from timers and the inbox.
type Daemon struct {
	orch   Orchestrator
	config *Config

	watcher       *InboxWatcher
	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a daemon with default configuration.
func New(orch Orchestrator) (*Daemon, error) {
	return NewWithConfig(orch, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(orch Orchestrator, config *Config) (*Daemon, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	d := &Daemon{
		orch:        orch,
		config:      config,
		changeQueue: make(map[string]time.Time),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if config.InboxDir != "" {
		if err := os.MkdirAll(config.InboxDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create inbox directory: %w", err)
		}
		watcher, err := NewInboxWatcher()
		if err != nil {
			return nil, err
		}
		d.watcher = watcher
	}

	return d, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Probe connectivity once (draining any backlog left by a previous run)
//  2. Ingest files already waiting in the inbox
//  3. Start the probe and cleanup loops and the inbox watcher
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	online := d.orch.CheckConnectivity(ctx)
	d.config.Logger.Printf("Remote online: %v", online)

	if d.watcher != nil {
		if _, err := d.ScanInbox(ctx); err != nil {
			return fmt.Errorf("initial inbox scan failed: %w", err)
		}
		if err := d.watcher.Start(d.config.InboxDir); err != nil {
			return err
		}
		d.config.Logger.Printf("Watching inbox: %s", d.config.InboxDir)

		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(2)
	go d.probeLoop()
	go d.cleanupLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. Safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}

		d.wg.Wait()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// probeLoop periodically refreshes connectivity.
func (d *Daemon) probeLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.orch.CheckConnectivity(d.ctx)
		}
	}
}

// cleanupLoop periodically removes expired synced documents.
func (d *Daemon) cleanupLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if _, err := d.orch.Cleanup(d.ctx, d.config.Retention); err != nil {
				d.config.Logger.Printf("Error running cleanup: %v", err)
			}
		}
	}
}

// watchFileEvents queues inbox changes for debounced ingestion.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if event.Op == OpDelete {
				d.dequeueChange(event.Path)
				continue
			}
			d.queueChange(event.Path)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) dequeueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	delete(d.changeQueue, path)
}

// processChangeQueue ingests queued files once they have been quiet for
// DebounceInterval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

func (d *Daemon) processPendingChanges() {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		if _, err := d.ingestFile(d.ctx, path); err != nil {
			d.config.Logger.Printf("Error ingesting %s: %v", path, err)
		}
	}
}
