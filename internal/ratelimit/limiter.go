// Package ratelimit admits at most N requests per caller within a sliding
// time window.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/rs/zerolog/log"
)

// Config configures the limiter.
type Config struct {
	Window        time.Duration `yaml:"window"`
	MaxRequests   int           `yaml:"max_requests"`
	Shards        int           `yaml:"shards"`
	EvictInterval time.Duration `yaml:"evict_interval"`
}

// DefaultConfig returns 10 requests per minute per caller.
func DefaultConfig() Config {
	return Config{
		Window:        60 * time.Second,
		MaxRequests:   10,
		Shards:        16,
		EvictInterval: time.Minute,
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"` // zero when allowed
}

// Stats summarises limiter state.
type Stats struct {
	TrackedKeys   int    `json:"tracked_keys"`
	Admitted      int64  `json:"admitted"`
	Rejected      int64  `json:"rejected"`
	UniqueCallers uint64 `json:"unique_callers_estimate"`
}

type shard struct {
	mu      sync.Mutex
	windows map[string][]time.Time // admission times, oldest first
}

// Limiter is a sharded sliding-window limiter. Rejected requests are not
// recorded, so a throttled caller regains capacity as soon as its oldest
// admitted request leaves the window.
type Limiter struct {
	config Config
	shards []*shard
	now    func() time.Time

	admitted atomic.Int64
	rejected atomic.Int64

	callersMu sync.Mutex
	callers   *hyperloglog.Sketch
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter, filling zero config fields with defaults.
func New(config Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = def.MaxRequests
	}
	if config.Shards <= 0 {
		config.Shards = def.Shards
	}
	if config.EvictInterval <= 0 {
		config.EvictInterval = def.EvictInterval
	}

	l := &Limiter{
		config:  config,
		shards:  make([]*shard, config.Shards),
		now:     time.Now,
		callers: hyperloglog.New14(),
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string][]time.Time)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// Allow records a request for key if the window has room.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()
	cutoff := now.Add(-l.config.Window)

	l.trackCaller(key)

	sh := l.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	times := prune(sh.windows[key], cutoff)

	if len(times) >= l.config.MaxRequests {
		sh.windows[key] = times
		l.rejected.Add(1)
		return Decision{
			Allowed:    false,
			Limit:      l.config.MaxRequests,
			Remaining:  0,
			RetryAfter: times[0].Add(l.config.Window).Sub(now),
		}
	}

	times = append(times, now)
	sh.windows[key] = times
	l.admitted.Add(1)
	return Decision{
		Allowed:   true,
		Limit:     l.config.MaxRequests,
		Remaining: l.config.MaxRequests - len(times),
	}
}

// prune drops admissions at or before cutoff, reusing the backing array.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	n := copy(times, times[i:])
	return times[:n]
}

func (l *Limiter) trackCaller(key string) {
	l.callersMu.Lock()
	l.callers.Insert([]byte(key))
	l.callersMu.Unlock()
}

// Evict forgets callers with no admission inside the window and returns
// how many were removed.
func (l *Limiter) Evict() int {
	cutoff := l.now().Add(-l.config.Window)
	evicted := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, times := range sh.windows {
			if len(times) == 0 || !times[len(times)-1].After(cutoff) {
				delete(sh.windows, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Run evicts stale callers every EvictInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Evict(); n > 0 {
				log.Debug().Int("evicted", n).Msg("ratelimit: stale callers evicted")
			}
		}
	}
}

// Stats returns a snapshot of limiter counters.
func (l *Limiter) Stats() Stats {
	keys := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		keys += len(sh.windows)
		sh.mu.Unlock()
	}
	l.callersMu.Lock()
	unique := l.callers.Estimate()
	l.callersMu.Unlock()
	return Stats{
		TrackedKeys:   keys,
		Admitted:      l.admitted.Load(),
		Rejected:      l.rejected.Load(),
		UniqueCallers: unique,
	}
}
