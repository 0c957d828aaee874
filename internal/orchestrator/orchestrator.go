package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docstage/docstage/internal/connectivity"
)

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("orchestrator closed")

// Orchestrator owns all mutable sync state for one set of stores.
type Orchestrator struct {
	local    LocalStore
	remote   RemoteStore // nil = no remote configured
	fallback FallbackStore
	checker  *connectivity.Checker
	config   Config
	logger   *log.Logger

	draining      atomic.Bool // drain guard
	rerun         atomic.Bool // a scheduled drain found the guard taken
	localDown     atomic.Bool
	networkOnline atomic.Bool
	localDownOnce sync.Once

	mu          sync.Mutex
	closed      bool
	queue       []string // ids ingested online since the last drain started
	drainTimer  *time.Timer
	online      bool
	onlineKnown bool
	lastResult  *DrainResult

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator.
//
// remote and fallback may be nil. A local store that reports itself
// unavailable routes ingestion to the fallback store from the start.
func New(localStore LocalStore, remoteStore RemoteStore, fallbackStore FallbackStore, config *Config) (*Orchestrator, error) {
	if localStore == nil {
		return nil, fmt.Errorf("local store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	cfg := config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		local:    localStore,
		remote:   remoteStore,
		fallback: fallbackStore,
		config:   cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	o.networkOnline.Store(true)

	if remoteStore != nil {
		// A hung remote must not stall drains or status calls behind the
		// shared in-flight check.
		prober := connectivity.ProberFunc(func(ctx context.Context) bool {
			ctx, cancel := context.WithTimeout(ctx, cfg.RemoteTimeout)
			defer cancel()
			return remoteStore.Probe(ctx)
		})
		o.checker = connectivity.New(prober, cfg.ProbeTTL)
		o.checker.SetClock(cfg.Now)
	}

	if a, ok := localStore.(availability); ok && !a.Available() {
		o.markLocalDown(errors.New("local store unavailable at startup"))
	}

	return o, nil
}

// Close stops pending timers, cancels in-flight drains and waits for them.
// Safe to call more than once.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	if o.drainTimer != nil {
		o.drainTimer.Stop()
		o.drainTimer = nil
	}
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	return nil
}

// enter registers an operation that must finish before Close returns.
func (o *Orchestrator) enter() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.wg.Add(1)
	return true
}

func (o *Orchestrator) now() time.Time {
	return o.config.Now().UTC()
}

// LocalAvailable reports whether ingestion still goes to the local store.
func (o *Orchestrator) LocalAvailable() bool {
	return !o.localDown.Load()
}

func (o *Orchestrator) markLocalDown(cause error) {
	o.localDown.Store(true)
	o.localDownOnce.Do(func() {
		o.logger.Printf("WARNING: local store unavailable, routing ingestion to fallback: %v", cause)
	})
}

// SetNetworkOnline records a platform connectivity signal.
// Going online invalidates the probe cache and schedules a drain after
// SettleDelay.
func (o *Orchestrator) SetNetworkOnline(online bool) {
	prev := o.networkOnline.Swap(online)
	if prev == online {
		return
	}

	if !online {
		o.noteConnectivity(false)
		return
	}

	if o.checker != nil {
		o.checker.Invalidate()
	}
	o.logger.Printf("Network online, draining in %v", o.config.SettleDelay)
	o.scheduleDrain(o.config.SettleDelay)
}

// CheckConnectivity probes the remote now and reports the result.
// An offline to online transition schedules a drain after SettleDelay.
func (o *Orchestrator) CheckConnectivity(ctx context.Context) bool {
	online := o.networkOnline.Load() && o.checker != nil && o.checker.Refresh(ctx)
	o.noteConnectivity(online)
	return online
}

// isOnline consults the TTL cache, probing only when it is stale.
func (o *Orchestrator) isOnline(ctx context.Context) bool {
	online := o.networkOnline.Load() && o.checker != nil && o.checker.Check(ctx)
	o.noteConnectivity(online)
	return online
}

// knownOnline reports the last observed state without probing.
func (o *Orchestrator) knownOnline() bool {
	if !o.networkOnline.Load() || o.checker == nil {
		return false
	}
	online, known := o.checker.Cached()
	return online && known
}

// noteConnectivity records a connectivity observation and reports changes.
// Whichever caller first sees the remote come back schedules the settle
// drain.
func (o *Orchestrator) noteConnectivity(online bool) {
	o.mu.Lock()
	changed := !o.onlineKnown || o.online != online
	recovered := online && (!o.onlineKnown || !o.online)
	o.online = online
	o.onlineKnown = true
	o.mu.Unlock()

	if !changed {
		return
	}

	if online {
		o.logger.Printf("Remote reachable")
	} else {
		o.logger.Printf("Remote unreachable")
	}
	o.emit(Event{Type: EventConnectivity, Online: &online})

	if recovered {
		o.scheduleDrain(o.config.SettleDelay)
	}
}

// DrainStatus is the observable drain state.
type DrainStatus struct {
	Running        bool         `json:"running"`
	QueueLength    int          `json:"queue_length"`
	Online         bool         `json:"online"`
	OnlineKnown    bool         `json:"online_known"`
	NetworkOnline  bool         `json:"network_online"`
	LocalAvailable bool         `json:"local_available"`
	DrainScheduled bool         `json:"drain_scheduled"`
	LastResult     *DrainResult `json:"last_result,omitempty"`
}

// Status returns the current drain state.
func (o *Orchestrator) Status() DrainStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := DrainStatus{
		Running:        o.draining.Load(),
		QueueLength:    len(o.queue),
		Online:         o.online,
		OnlineKnown:    o.onlineKnown,
		NetworkOnline:  o.networkOnline.Load(),
		LocalAvailable: !o.localDown.Load(),
		DrainScheduled: o.drainTimer != nil,
	}
	if o.lastResult != nil {
		r := *o.lastResult
		st.LastResult = &r
	}
	return st
}

// enqueue records ids awaiting the next drain.
func (o *Orchestrator) enqueue(id string) {
	o.mu.Lock()
	o.queue = append(o.queue, id)
	o.mu.Unlock()
}

// scheduleDrain arms the drain timer unless one is already pending.
// Bursts of triggers collapse into the earliest pending drain.
func (o *Orchestrator) scheduleDrain(delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.drainTimer != nil {
		return
	}
	o.drainTimer = time.AfterFunc(delay, o.runScheduledDrain)
}

func (o *Orchestrator) runScheduledDrain() {
	o.mu.Lock()
	o.drainTimer = nil
	o.mu.Unlock()

	res, err := o.SyncNow(o.ctx)
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			o.logger.Printf("WARNING: scheduled drain failed: %v", err)
		}
		return
	}

	if res.Skipped == SkipBusy {
		// The running pass picks this up when it releases the guard. If it
		// already released it, schedule the follow-up here.
		o.rerun.Store(true)
		if !o.draining.Load() && o.rerun.CompareAndSwap(true, false) {
			o.scheduleDrain(o.config.IngestDrainDelay)
		}
	}
}
