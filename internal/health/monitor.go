// Package health tracks provider reachability from active probes and picks
// the fastest healthy provider among routing candidates.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ferro-labs/agent-router/internal/logging"
	"github.com/ferro-labs/agent-router/internal/metrics"
	"github.com/ferro-labs/agent-router/providers"
)

// ProbeTimeout bounds a single health probe.
const ProbeTimeout = 10 * time.Second

// State is the probe-driven health state of a provider.
type State string

const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// ProviderHealth is the latest probe result for one provider.
type ProviderHealth struct {
	Provider  string    `json:"provider"`
	State     State     `json:"state"`
	Healthy   bool      `json:"healthy"`
	LatencyMs float64   `json:"latencyMs"`
	LastCheck time.Time `json:"lastCheck"`
	Error     string    `json:"error,omitempty"`
}

// Checker performs one authenticated health request against an endpoint.
type Checker interface {
	Check(ctx context.Context, ep providers.Endpoint) error
}

// Monitor holds one ProviderHealth per provider, overwritten on every probe.
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]ProviderHealth
	checker Checker
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewMonitor creates a Monitor that probes through checker.
func NewMonitor(checker Checker) *Monitor {
	return &Monitor{
		entries: make(map[string]ProviderHealth),
		checker: checker,
		timeout: ProbeTimeout,
		now:     time.Now,
		logger:  logging.Component("health"),
	}
}

// Probe checks ep within the probe timeout and stores the outcome. Any
// error (timeout, network, non-2xx) marks the provider unhealthy.
func (m *Monitor) Probe(ctx context.Context, ep providers.Endpoint) ProviderHealth {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	err := m.checker.Check(ctx, ep)
	latency := m.now().Sub(start)

	h := ProviderHealth{
		Provider:  ep.Name,
		State:     StateHealthy,
		Healthy:   true,
		LatencyMs: float64(latency.Microseconds()) / 1000,
		LastCheck: m.now(),
	}
	if err != nil {
		h.State = StateUnhealthy
		h.Healthy = false
		h.Error = err.Error()
	}
	m.set(h)

	if err != nil {
		m.logger.Warn("provider probe failed", "provider", ep.Name, "latency_ms", h.LatencyMs, "error", err)
	} else {
		m.logger.Debug("provider probe ok", "provider", ep.Name, "latency_ms", h.LatencyMs)
	}
	return h
}

// ProbeAll probes every endpoint concurrently and returns once all probes
// have finished. Results are sorted by provider name.
func (m *Monitor) ProbeAll(ctx context.Context, eps []providers.Endpoint) []ProviderHealth {
	results := make([]ProviderHealth, len(eps))
	var g errgroup.Group
	for i, ep := range eps {
		g.Go(func() error {
			results[i] = m.Probe(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Provider < results[j].Provider })
	return results
}

// EnsureProbed probes, concurrently, the endpoints that have never been
// probed so a cold start does not report every candidate as unavailable.
func (m *Monitor) EnsureProbed(ctx context.Context, eps []providers.Endpoint) {
	var pending []providers.Endpoint
	m.mu.RLock()
	for _, ep := range eps {
		if _, ok := m.entries[ep.Name]; !ok {
			pending = append(pending, ep)
		}
	}
	m.mu.RUnlock()

	if len(pending) > 0 {
		m.ProbeAll(ctx, pending)
	}
}

// SelectHealthy returns the healthy candidate with the lowest probe
// latency. Ties go to the lexically smaller name. ok is false when no
// candidate was last probed healthy.
func (m *Monitor) SelectHealthy(candidates []string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	best := ""
	var bestLatency float64
	for _, name := range candidates {
		h, ok := m.entries[name]
		if !ok || !h.Healthy {
			continue
		}
		if best == "" || h.LatencyMs < bestLatency || (h.LatencyMs == bestLatency && name < best) {
			best, bestLatency = name, h.LatencyMs
		}
	}
	return best, best != ""
}

// Get returns the stored health for a provider.
func (m *Monitor) Get(name string) (ProviderHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.entries[name]
	return h, ok
}

// Snapshot returns every stored entry sorted by provider name.
func (m *Monitor) Snapshot() []ProviderHealth {
	m.mu.RLock()
	out := make([]ProviderHealth, 0, len(m.entries))
	for _, h := range m.entries {
		out = append(out, h)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Prune drops entries for providers not in keep and returns how many were
// removed.
func (m *Monitor) Prune(keep []string) int {
	wanted := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		wanted[name] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for name := range m.entries {
		if _, ok := wanted[name]; ok {
			continue
		}
		delete(m.entries, name)
		metrics.ForgetProvider(name)
		removed++
	}
	if removed > 0 {
		m.logger.Info("pruned health entries for removed providers", "count", removed)
	}
	return removed
}

// markStale flags every entry last checked before cutoff as unhealthy.
func (m *Monitor) markStale(cutoff time.Time, reason string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []string
	for name, h := range m.entries {
		if !h.LastCheck.Before(cutoff) || (h.State == StateUnhealthy && h.Error == reason) {
			continue
		}
		h.State = StateUnhealthy
		h.Healthy = false
		h.Error = reason
		m.entries[name] = h
		metrics.ProviderHealthy.WithLabelValues(name).Set(0)
		stale = append(stale, name)
	}
	sort.Strings(stale)
	return stale
}

func (m *Monitor) set(h ProviderHealth) {
	m.mu.Lock()
	m.entries[h.Provider] = h
	m.mu.Unlock()

	healthy := 0.0
	if h.Healthy {
		healthy = 1
	}
	metrics.ProviderHealthy.WithLabelValues(h.Provider).Set(healthy)
	metrics.ProbeLatency.WithLabelValues(h.Provider).Set(h.LatencyMs / 1000)
}

// Summary aggregates a probe round for reporting.
type Summary struct {
	Healthy     bool             `json:"healthy"`
	Score       float64          `json:"score"`
	Providers   []ProviderHealth `json:"providers"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// Summarize computes the healthy fraction of results. The router is
// considered healthy while at least one provider can serve traffic.
func Summarize(results []ProviderHealth, at time.Time) Summary {
	healthy := 0
	for _, h := range results {
		if h.Healthy {
			healthy++
		}
	}
	s := Summary{
		Healthy:     healthy > 0,
		Providers:   results,
		LastUpdated: at,
	}
	if len(results) > 0 {
		s.Score = float64(healthy) / float64(len(results))
	}
	if s.Providers == nil {
		s.Providers = []ProviderHealth{}
	}
	return s
}
