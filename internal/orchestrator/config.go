package orchestrator

import (
	"log"
	"os"
	"time"

	"github.com/docstage/docstage/internal/connectivity"
)

// Config holds configuration for the orchestrator.
//
// Delays and spacing may be zero (act immediately). Bounds and timeouts
// that are zero or negative fall back to their defaults.
type Config struct {
	// IngestDrainDelay coalesces bursts of ingests into one drain
	IngestDrainDelay time.Duration

	// SettleDelay waits after an offline to online transition before draining
	SettleDelay time.Duration

	// ItemSpacing separates consecutive remote writes within a drain
	ItemSpacing time.Duration

	// MaxItemsPerDrain bounds one pass; the rest waits for a follow-up pass
	MaxItemsPerDrain int

	// MaxDrainDuration bounds the wall time of one pass
	MaxDrainDuration time.Duration

	// RemoteTimeout bounds every remote call
	RemoteTimeout time.Duration

	// ProbeTTL is how long a connectivity probe result is trusted
	ProbeTTL time.Duration

	// Retention is the default age past which synced documents are cleaned up
	Retention time.Duration

	// Observer receives lifecycle events (optional)
	Observer Observer

	// Logger for orchestrator activity
	Logger *log.Logger

	// Now is the clock (default: time.Now)
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		IngestDrainDelay: 1 * time.Second,
		SettleDelay:      5 * time.Second,
		ItemSpacing:      2 * time.Second,
		MaxItemsPerDrain: 100,
		MaxDrainDuration: 2 * time.Minute,
		RemoteTimeout:    15 * time.Second,
		ProbeTTL:         connectivity.DefaultTTL,
		Retention:        30 * 24 * time.Hour,
		Logger:           log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Now:              time.Now,
	}
}

func (c *Config) withDefaults() Config {
	d := DefaultConfig()
	out := *c
	if out.MaxItemsPerDrain <= 0 {
		out.MaxItemsPerDrain = d.MaxItemsPerDrain
	}
	if out.MaxDrainDuration <= 0 {
		out.MaxDrainDuration = d.MaxDrainDuration
	}
	if out.RemoteTimeout <= 0 {
		out.RemoteTimeout = d.RemoteTimeout
	}
	if out.ProbeTTL <= 0 {
		out.ProbeTTL = d.ProbeTTL
	}
	if out.Retention <= 0 {
		out.Retention = d.Retention
	}
	if out.IngestDrainDelay < 0 {
		out.IngestDrainDelay = 0
	}
	if out.SettleDelay < 0 {
		out.SettleDelay = 0
	}
	if out.ItemSpacing < 0 {
		out.ItemSpacing = 0
	}
	if out.Logger == nil {
		out.Logger = d.Logger
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}
