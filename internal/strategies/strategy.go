// Package strategies implements the dispatch strategies used by the router.
//
// Fallback is the only strategy: it walks healthy providers serving the
// target model, one attempt at a time, until one answers or the attempt
// bound is reached.
package strategies

import (
	"context"

	"github.com/ferro-labs/agent-router/internal/health"
	"github.com/ferro-labs/agent-router/providers"
)

// Dispatcher sends a request to one endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, ep providers.Endpoint, req providers.Request) (*providers.Response, error)
}

// HealthTracker is the view of the health monitor that routing needs.
type HealthTracker interface {
	EnsureProbed(ctx context.Context, eps []providers.Endpoint)
	SelectHealthy(candidates []string) (string, bool)
	Probe(ctx context.Context, ep providers.Endpoint) health.ProviderHealth
}

// Reason records why the serving provider was used.
type Reason string

const (
	// ReasonPrimary means the first attempt succeeded.
	ReasonPrimary Reason = "primary"
	// ReasonFallback means an earlier attempt failed.
	ReasonFallback Reason = "fallback"
	// ReasonDefault means the first attempt succeeded on a model picked by
	// the unconditioned default rule.
	ReasonDefault Reason = "default"
)

// Result describes a routed request. On failure it still reports the
// attempts made and the last provider tried.
type Result struct {
	Response *providers.Response
	Provider string
	Attempts int
	Reason   Reason
}
