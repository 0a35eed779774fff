package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Adacracker/MintTrail/internal/blockfrost"
	"github.com/Adacracker/MintTrail/internal/ratelimit"
)

// ComponentStatus is the health of one dependency.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the latest probe result of a component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	LatencyMs   int64           `json:"latency_ms"`
	Details     map[string]any  `json:"details,omitempty"`
}

// SystemHealth aggregates all components; Status is the worst of them.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	UptimeSec  int64                      `json:"uptime_sec"`
}

// HealthMonitor probes registered components on an interval and on demand.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	results   map[string]ComponentHealth
	startTime time.Time
	interval  time.Duration
	timeout   time.Duration
}

// NewHealthMonitor creates a monitor probing every interval, each probe
// bounded by timeout.
func NewHealthMonitor(interval, timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		results:   make(map[string]ComponentHealth),
		startTime: time.Now(),
		interval:  interval,
		timeout:   timeout,
	}
}

// Register adds a named check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Start probes immediately and then every interval until ctx is done.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.runChecks(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

// Check probes every component now and returns the aggregate.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.runChecks(ctx)
	return m.Snapshot()
}

// Snapshot returns the aggregate of the most recent probes.
func (m *HealthMonitor) Snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.results))
	worst := StatusHealthy
	for name, h := range m.results {
		components[name] = h
		if statusSeverity(h.Status) > statusSeverity(worst) {
			worst = h.Status
		}
	}
	return SystemHealth{
		Status:     worst,
		Components: components,
		Timestamp:  time.Now().UTC(),
		UptimeSec:  int64(time.Since(m.startTime).Seconds()),
	}
}

// ServeHTTP reports the last snapshot, probing first if nothing ran yet.
// Unhealthy answers 503.
func (m *HealthMonitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	empty := len(m.results) == 0
	m.mu.RUnlock()

	var health SystemHealth
	if empty {
		health = m.Check(r.Context())
	} else {
		health = m.Snapshot()
	}

	status := http.StatusOK
	if health.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(health)
}

func (m *HealthMonitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	fresh := make(map[string]ComponentHealth, len(checks))
	for name, fn := range checks {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		h := fn(probeCtx)
		cancel()
		h.Name = name
		h.LastChecked = time.Now().UTC()
		h.LatencyMs = time.Since(start).Milliseconds()
		fresh[name] = h
	}

	m.mu.Lock()
	previous := m.results
	m.results = fresh
	m.mu.Unlock()

	for name, cur := range fresh {
		prev, seen := previous[name]
		if seen && prev.Status == cur.Status {
			continue
		}
		ev := log.Info()
		switch cur.Status {
		case StatusUnhealthy:
			ev = log.Error()
		case StatusDegraded:
			ev = log.Warn()
		}
		ev.Str("component", name).
			Str("status", string(cur.Status)).
			Str("message", cur.Message).
			Msg("health: component status changed")
	}
}

func statusSeverity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}

// ---------------------------------------------------------------------------
// Checks
// ---------------------------------------------------------------------------

// statsSource is implemented by clients that expose request counters.
type statsSource interface {
	Stats() blockfrost.Stats
}

// UpstreamCheck probes the data source. An open circuit breaker is
// degraded; a failed probe is unhealthy.
func UpstreamCheck(client blockfrost.Client) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		h := ComponentHealth{Status: StatusHealthy, Message: "reachable"}
		if src, ok := client.(statsSource); ok {
			stats := src.Stats()
			h.Details = map[string]any{
				"requests":       stats.RequestCount,
				"errors":         stats.ErrorCount,
				"avg_latency_us": stats.AvgLatencyUs,
			}
			if stats.CircuitOpen {
				h.Status = StatusDegraded
				h.Message = "circuit breaker open"
				return h
			}
		}
		if err := client.Health(ctx); err != nil {
			h.Status = StatusUnhealthy
			h.Message = err.Error()
		}
		return h
	}
}

// LimiterCheck reports degraded once the limiter tracks more than
// maxCallers keys, which means eviction is not keeping up.
func LimiterCheck(l *ratelimit.Limiter, maxCallers int) HealthCheck {
	return func(context.Context) ComponentHealth {
		stats := l.Stats()
		h := ComponentHealth{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d callers tracked", stats.TrackedKeys),
			Details: map[string]any{
				"tracked":  stats.TrackedKeys,
				"admitted": stats.Admitted,
				"rejected": stats.Rejected,
			},
		}
		if maxCallers > 0 && stats.TrackedKeys > maxCallers {
			h.Status = StatusDegraded
		}
		return h
	}
}
