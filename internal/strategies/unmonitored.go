package strategies

import (
	"context"
	"slices"
	"sync"

	"github.com/ferro-labs/agent-router/internal/health"
	"github.com/ferro-labs/agent-router/providers"
)

// Unmonitored is a HealthTracker for deployments with health checks turned
// off. It never probes: every candidate counts as healthy until it fails a
// dispatch within the same request, and once all have failed the next round
// starts over. Create one per request.
type Unmonitored struct {
	mu     sync.Mutex
	failed map[string]bool
}

// NewUnmonitored returns a tracker with no failures recorded.
func NewUnmonitored() *Unmonitored {
	return &Unmonitored{failed: make(map[string]bool)}
}

// EnsureProbed is a no-op.
func (u *Unmonitored) EnsureProbed(context.Context, []providers.Endpoint) {}

// SelectHealthy returns the first candidate by name that has not failed
// in the current round.
func (u *Unmonitored) SelectHealthy(candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	sorted := slices.Clone(candidates)
	slices.Sort(sorted)
	for _, name := range sorted {
		if !u.failed[name] {
			return name, true
		}
	}
	clear(u.failed)
	return sorted[0], true
}

// Probe is only called after a failed dispatch, so it marks ep failed.
func (u *Unmonitored) Probe(_ context.Context, ep providers.Endpoint) health.ProviderHealth {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failed[ep.Name] = true
	return health.ProviderHealth{
		Provider: ep.Name,
		State:    health.StateUnhealthy,
		Error:    "dispatch failed",
	}
}
