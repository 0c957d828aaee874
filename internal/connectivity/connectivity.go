// Package connectivity caches remote reachability probes.
//
// A probe result is trusted for a fixed TTL. After the TTL a new probe runs,
// so a failed probe never pins the process offline. Concurrent callers that
// find the cache stale share one in-flight probe.
package connectivity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a probe result is trusted.
const DefaultTTL = 45 * time.Second

// Prober reports whether the remote store answers.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool {
	return f(ctx)
}

// Checker is a TTL cache around a Prober.
type Checker struct {
	prober Prober
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	known     bool
	online    bool
	checkedAt time.Time
}

// New creates a checker. A non-positive ttl selects DefaultTTL.
func New(prober Prober, ttl time.Duration) *Checker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Checker{prober: prober, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (c *Checker) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Check returns the cached result when fresh, probing otherwise.
func (c *Checker) Check(ctx context.Context) bool {
	c.mu.Lock()
	if c.known && c.now().Sub(c.checkedAt) < c.ttl {
		online := c.online
		c.mu.Unlock()
		return online
	}
	c.mu.Unlock()

	return c.Refresh(ctx)
}

// Refresh probes now, ignoring the cache. Concurrent refreshes share one probe.
func (c *Checker) Refresh(ctx context.Context) bool {
	v, _, _ := c.group.Do("probe", func() (any, error) {
		online := c.prober.Probe(ctx)

		c.mu.Lock()
		c.known = true
		c.online = online
		c.checkedAt = c.now()
		c.mu.Unlock()

		return online, nil
	})
	return v.(bool)
}

// Cached returns the last result without probing. known is false until the
// first probe completes.
func (c *Checker) Cached() (online, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online, c.known
}

// Invalidate forgets the cached result so the next Check probes.
func (c *Checker) Invalidate() {
	c.mu.Lock()
	c.known = false
	c.mu.Unlock()
}

// LastChecked returns when the cached result was recorded.
func (c *Checker) LastChecked() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkedAt
}
