// Package loadtest measures ingestion and drain throughput end to end.
//
// A run builds throwaway local, fallback and remote stores in a directory,
// ingests synthetic documents from concurrent writers, drains the backlog to
// the remote store and finally queries the merged listing from concurrent
// readers. Each phase reports latency percentiles.
package loadtest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/orchestrator"
	"github.com/docstage/docstage/internal/store/fallback"
	"github.com/docstage/docstage/internal/store/local"
	"github.com/docstage/docstage/internal/store/remote"
)

// Options controls a load test run.
type Options struct {
	Dir          string  // working directory for the throwaway stores (required)
	Documents    int     // documents to ingest (default 500)
	Writers      int     // concurrent ingesters (default 8)
	Readers      int     // concurrent ListAll callers (default 4)
	QueriesEach  int     // ListAll calls per reader (default 5)
	PayloadBytes int     // payload size per document (default 4096)
	DerivedPct   float64 // share of documents ingested with derived data (default 1.0)
	MaxPerDrain  int     // drain pass bound (default 100)
}

func (o Options) withDefaults() Options {
	if o.Documents <= 0 {
		o.Documents = 500
	}
	if o.Writers <= 0 {
		o.Writers = 8
	}
	if o.Readers <= 0 {
		o.Readers = 4
	}
	if o.QueriesEach <= 0 {
		o.QueriesEach = 5
	}
	if o.PayloadBytes <= 0 {
		o.PayloadBytes = 4096
	}
	if o.DerivedPct <= 0 || o.DerivedPct > 1 {
		o.DerivedPct = 1
	}
	if o.MaxPerDrain <= 0 {
		o.MaxPerDrain = 100
	}
	return o
}

// LatencyStats captures performance metrics from one phase.
type LatencyStats struct {
	Min        time.Duration `json:"min"`
	Max        time.Duration `json:"max"`
	Mean       time.Duration `json:"mean"`
	P50        time.Duration `json:"p50"` // Median
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
	Operations int           `json:"operations"`
	Errors     int           `json:"errors"`
}

// Report is the outcome of a run.
type Report struct {
	Ingest      *LatencyStats `json:"ingest"`
	Upload      *LatencyStats `json:"upload"` // per-document remote upserts
	List        *LatencyStats `json:"list"`
	Synced      int           `json:"synced"`
	Failed      int           `json:"failed"`
	DrainPasses int           `json:"drain_passes"`
	Listed      int           `json:"listed"` // documents in the final merged listing
	Elapsed     time.Duration `json:"elapsed"`
}

// timedRemote records the latency of every document upsert.
type timedRemote struct {
	*remote.Store

	mu        sync.Mutex
	durations []time.Duration
	errors    int
}

func (r *timedRemote) UpsertDocument(ctx context.Context, doc *document.Document) (string, error) {
	start := time.Now()
	id, err := r.Store.UpsertDocument(ctx, doc)
	elapsed := time.Since(start)

	r.mu.Lock()
	r.durations = append(r.durations, elapsed)
	if err != nil {
		r.errors++
	}
	r.mu.Unlock()
	return id, err
}

// Run executes a load test in opts.Dir.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("working directory is required")
	}
	opts = opts.withDefaults()
	start := time.Now()
	quiet := log.New(io.Discard, "", 0)

	localStore, err := local.Open(filepath.Join(opts.Dir, "local.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	defer localStore.Close()

	fallbackStore, err := fallback.Open(filepath.Join(opts.Dir, "fallback"), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open fallback store: %w", err)
	}

	remoteDB, err := sql.Open("sqlite3", "file:"+filepath.Join(opts.Dir, "remote.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}
	defer remoteDB.Close()

	rs, err := remote.New(remoteDB, &remote.Config{Owner: "loadtest", Logger: quiet})
	if err != nil {
		return nil, err
	}
	if err := rs.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	timed := &timedRemote{Store: rs}

	cfg := orchestrator.DefaultConfig()
	// Drains run only when called below
	cfg.IngestDrainDelay = time.Hour
	cfg.SettleDelay = time.Hour
	cfg.ItemSpacing = 0
	cfg.MaxItemsPerDrain = opts.MaxPerDrain
	cfg.MaxDrainDuration = 10 * time.Minute
	cfg.Logger = quiet

	orch, err := orchestrator.New(localStore, timed, fallbackStore, cfg)
	if err != nil {
		return nil, err
	}
	defer orch.Close()

	report := &Report{}

	report.Ingest = ingestPhase(ctx, orch, opts)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := orch.SyncNow(ctx)
		if err != nil {
			return nil, fmt.Errorf("drain failed: %w", err)
		}
		if result.Skipped != "" {
			return nil, fmt.Errorf("drain skipped: %s", result.Skipped)
		}
		report.DrainPasses++
		report.Synced += result.Synced
		report.Failed += result.Failed
		if !result.Truncated || result.Synced == 0 {
			break
		}
	}
	timed.mu.Lock()
	report.Upload = computeLatencyStats(timed.durations)
	report.Upload.Errors = timed.errors
	timed.mu.Unlock()

	list, listed := listPhase(ctx, orch, opts)
	report.List = list
	report.Listed = listed

	report.Elapsed = time.Since(start)
	return report, nil
}

// ingestPhase ingests opts.Documents documents from opts.Writers goroutines.
func ingestPhase(ctx context.Context, orch *orchestrator.Orchestrator, opts Options) *LatencyStats {
	reqs := generateRequests(opts)
	work := make(chan orchestrator.IngestRequest)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var durations []time.Duration
	errorCount := 0

	for i := 0; i < opts.Writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range work {
				begin := time.Now()
				_, err := orch.Ingest(ctx, req)
				elapsed := time.Since(begin)

				mu.Lock()
				durations = append(durations, elapsed)
				if err != nil {
					errorCount++
				}
				mu.Unlock()
			}
		}()
	}

	for _, req := range reqs {
		work <- req
	}
	close(work)
	wg.Wait()

	stats := computeLatencyStats(durations)
	stats.Errors = errorCount
	return stats
}

// listPhase runs concurrent merged listings and reports their latency and
// the size of the last listing.
func listPhase(ctx context.Context, orch *orchestrator.Orchestrator, opts Options) (*LatencyStats, int) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var durations []time.Duration
	errorCount, listed := 0, 0

	for i := 0; i < opts.Readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < opts.QueriesEach; j++ {
				begin := time.Now()
				docs, err := orch.ListAll(ctx)
				elapsed := time.Since(begin)

				mu.Lock()
				durations = append(durations, elapsed)
				if err != nil {
					errorCount++
				} else {
					listed = len(docs)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stats := computeLatencyStats(durations)
	stats.Errors = errorCount
	return stats, listed
}

// generateRequests builds synthetic ingest requests. The sequence is
// deterministic for a given Options.
func generateRequests(opts Options) []orchestrator.IngestRequest {
	rng := rand.New(rand.NewSource(42))
	types := []string{"application/pdf", "image/jpeg", "image/png"}
	exts := []string{"pdf", "jpg", "png"}
	baseTime := time.Now().Add(-24 * time.Hour).Truncate(time.Second)

	withDerived := int(float64(opts.Documents) * opts.DerivedPct)
	reqs := make([]orchestrator.IngestRequest, opts.Documents)
	for i := range reqs {
		payload := make([]byte, opts.PayloadBytes)
		rng.Read(payload)

		req := orchestrator.IngestRequest{
			FileName: fmt.Sprintf("loadtest-%05d.%s", i, exts[i%len(exts)]),
			FileType: types[i%len(types)],
			Size:     -1,
			Payload:  payload,
			// Distinct seconds keep dedup keys distinct
			CreatedAt: baseTime.Add(time.Duration(i) * time.Second),
		}
		if i < withDerived {
			req.Derived = &document.Derived{
				ExtractedText: fmt.Sprintf("synthetic text for document %d", i),
				Metadata: map[string]any{
					remote.MetaPageCount:       float64(1 + rng.Intn(20)),
					remote.MetaComplianceScore: rng.Float64(),
				},
			}
		}
		reqs[i] = req
	}
	return reqs
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(sorted)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(sorted),
	}
}

// Print formats the statistics of one phase.
func (s *LatencyStats) Print(w io.Writer, label string) {
	fmt.Fprintf(w, "%s:\n", label)
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// Print formats the whole report.
func (r *Report) Print(w io.Writer) {
	r.Ingest.Print(w, "Ingest")
	r.Upload.Print(w, "Remote upsert")
	r.List.Print(w, "Merged listing")
	fmt.Fprintf(w, "Synced %d, failed %d in %d drain pass(es); %d documents listed; total %v\n",
		r.Synced, r.Failed, r.DrainPasses, r.Listed, r.Elapsed.Round(time.Millisecond))
}
