// Package proxy rotates outbound proxies across workers and quarantines
// the ones that keep failing.
package proxy

import (
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Record tracks the health of one proxy endpoint. All fields are guarded
// by the pool mutex; workers only read URL.
type Record struct {
	URL *url.URL

	consecutiveFailures int
	quarantinedUntil    time.Time
	lastQuarantined     time.Time
}

// FallbackMode controls Acquire behavior when every proxy is quarantined.
type FallbackMode int

const (
	// FallbackLeastRecent hands out the least-recently-quarantined proxy.
	FallbackLeastRecent FallbackMode = iota
	// FallbackDirect returns no proxy, letting the caller go direct.
	FallbackDirect
)

// Config holds the quarantine parameters.
type Config struct {
	// Threshold is the consecutive-failure count that trips quarantine.
	Threshold int
	// Base and Cap bound the exponential quarantine window.
	Base time.Duration
	Cap  time.Duration
	// Fallback controls what Acquire does when all proxies are quarantined.
	Fallback FallbackMode
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	if c.Base <= 0 {
		c.Base = 30 * time.Second
	}
	if c.Cap <= 0 {
		c.Cap = 10 * time.Minute
	}
}

// Pool hands out proxies round-robin and tracks per-proxy failures.
// Safe for concurrent use; a single pool-wide mutex guards all state.
type Pool struct {
	mu      sync.Mutex
	records []*Record
	next    int
	config  Config
	now     func() time.Time // injectable clock for testing
}

// NewPool parses the proxy URLs and builds a pool. An empty list yields a
// pool whose Acquire always returns nil (direct connections).
func NewPool(urls []string, cfg Config) (*Pool, error) {
	cfg.defaults()
	p := &Pool{config: cfg, now: time.Now}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q: missing scheme or host", raw)
		}
		p.records = append(p.records, &Record{URL: u})
	}
	return p, nil
}

// SetClock overrides the pool clock. Test use only.
func (p *Pool) SetClock(fn func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = fn
}

// Size returns the number of configured proxies.
func (p *Pool) Size() int {
	return len(p.records)
}

// Acquire picks the next non-quarantined proxy round-robin. When every
// proxy is quarantined it either falls back to the least-recently
// quarantined one or returns nil, per the configured FallbackMode.
// A nil return means the caller should connect directly.
func (p *Pool) Acquire() *Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.records) == 0 {
		return nil
	}

	now := p.now()
	for i := 0; i < len(p.records); i++ {
		r := p.records[p.next%len(p.records)]
		p.next++
		if r.quarantinedUntil.Before(now) || r.quarantinedUntil.Equal(now) {
			return r
		}
	}

	if p.config.Fallback == FallbackDirect {
		return nil
	}

	// All quarantined: pick the one quarantined longest ago so a single
	// bad proxy cannot starve the rotation.
	oldest := p.records[0]
	for _, r := range p.records[1:] {
		if r.lastQuarantined.Before(oldest.lastQuarantined) {
			oldest = r
		}
	}
	return oldest
}

// Release reports the outcome of one remote call made through r. A nil r
// (direct connection) is a no-op. Success clears the failure count and any
// quarantine; failure increments the count and, at the threshold, sets an
// exponentially growing quarantine window.
func (p *Pool) Release(r *Record, ok bool) {
	if r == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if ok {
		r.consecutiveFailures = 0
		r.quarantinedUntil = time.Time{}
		return
	}

	r.consecutiveFailures++
	if r.consecutiveFailures < p.config.Threshold {
		return
	}

	window := p.config.Base << uint(r.consecutiveFailures-p.config.Threshold)
	if window > p.config.Cap || window <= 0 {
		window = p.config.Cap
	}
	now := p.now()
	r.quarantinedUntil = now.Add(window)
	r.lastQuarantined = now
}

// Quarantined reports whether r is currently quarantined.
func (p *Pool) Quarantined(r *Record) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.quarantinedUntil.After(p.now())
}
