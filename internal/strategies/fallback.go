package strategies

import (
	"context"
	"fmt"

	"github.com/ferro-labs/agent-router/internal/logging"
	"github.com/ferro-labs/agent-router/internal/metrics"
	"github.com/ferro-labs/agent-router/internal/routeerr"
	"github.com/ferro-labs/agent-router/providers"
)

// Fallback dispatches to the fastest healthy provider and, on failure,
// re-probes it and moves on to the next best one. A provider that failed
// during the request is skipped while any other healthy candidate remains,
// even if its re-probe passed.
type Fallback struct {
	dispatcher Dispatcher
	health     HealthTracker
}

// NewFallback creates a new fallback strategy.
func NewFallback(dispatcher Dispatcher, health HealthTracker) *Fallback {
	return &Fallback{
		dispatcher: dispatcher,
		health:     health,
	}
}

// Route sends req for targetModel to the endpoints that serve it, making at
// most maxAttempts dispatch calls in total. Attempts are strictly
// sequential. When no candidate is healthy Route fails at once with
// *routeerr.NoHealthyProviderError; when every attempt fails it returns
// *routeerr.FallbackExhaustedError wrapping the last failure.
func (f *Fallback) Route(ctx context.Context, req providers.Request, targetModel string, eps []providers.Endpoint, maxAttempts int) (*Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var candidates []providers.Endpoint
	byName := make(map[string]providers.Endpoint)
	var names []string
	for _, ep := range eps {
		if ep.Serves(targetModel) {
			candidates = append(candidates, ep)
			byName[ep.Name] = ep
			names = append(names, ep.Name)
		}
	}

	result := &Result{}
	if len(candidates) == 0 {
		return result, &routeerr.NoHealthyProviderError{Model: targetModel}
	}
	f.health.EnsureProbed(ctx, candidates)

	log := logging.FromContext(ctx).With("component", "fallback", "model", targetModel)
	var lastErr error
	failed := make(map[string]bool, len(names))
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		name, ok := f.health.SelectHealthy(untried(names, failed))
		if !ok && len(failed) > 0 {
			// Every remaining candidate is down or already failed: new round.
			clear(failed)
			name, ok = f.health.SelectHealthy(names)
		}
		if !ok {
			return result, &routeerr.NoHealthyProviderError{Model: targetModel, Candidates: names, Last: lastErr}
		}
		ep := byName[name]
		result.Provider = name
		result.Attempts = attempt + 1

		if attempt > 0 {
			log.Info("retrying on next healthy provider", "provider", name, "attempt", attempt+1)
		}
		resp, err := f.dispatcher.Dispatch(ctx, ep, req)
		if err == nil {
			metrics.DispatchAttempts.WithLabelValues(name, "success").Inc()
			result.Response = resp
			result.Reason = ReasonPrimary
			if attempt > 0 {
				result.Reason = ReasonFallback
			}
			return result, nil
		}

		metrics.DispatchAttempts.WithLabelValues(name, "error").Inc()
		failed[name] = true
		lastErr = fmt.Errorf("provider %s attempt %d: %w", name, attempt+1, err)
		log.Warn("dispatch failed", "provider", name, "attempt", attempt+1, "error", err)

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		// Refresh the failing provider's status before the next selection.
		f.health.Probe(ctx, ep)
	}

	return result, &routeerr.FallbackExhaustedError{Model: targetModel, Attempts: maxAttempts, Last: lastErr}
}

func untried(names []string, failed map[string]bool) []string {
	if len(failed) == 0 {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !failed[n] {
			out = append(out, n)
		}
	}
	return out
}
