// Package agentrouter decides, per inbound chat request, which logical model
// to use and which configured provider should serve it.
//
// The Router type is the composition root: it extracts routing hints with
// ExtractContext, resolves a model with a Selector, dispatches through the
// fallback strategy with health-tracked provider selection, and records
// usage. Configuration types, validation and patch merging live here too;
// persistence is in internal/configstore.
package agentrouter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferro-labs/agent-router/internal/health"
	"github.com/ferro-labs/agent-router/internal/logging"
	"github.com/ferro-labs/agent-router/internal/metrics"
	"github.com/ferro-labs/agent-router/internal/routeerr"
	"github.com/ferro-labs/agent-router/internal/strategies"
	"github.com/ferro-labs/agent-router/internal/usage"
	"github.com/ferro-labs/agent-router/providers"
)

// ConfigSource supplies the current routing configuration.
type ConfigSource interface {
	Load(ctx context.Context) RouterConfig
}

// UsageRecorder receives one record per completed request. Implementations
// must not fail the caller.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record)
}

// Options configures a Router.
type Options struct {
	Config     ConfigSource
	Dispatcher strategies.Dispatcher
	Health     *health.Monitor
	// Usage is optional; nil disables usage recording.
	Usage UsageRecorder
}

// Router is the per-request routing pipeline. It is safe for concurrent use.
type Router struct {
	config     ConfigSource
	dispatcher strategies.Dispatcher
	health     *health.Monitor
	usage      UsageRecorder
	selector   *Selector
	fallback   *strategies.Fallback
	now        func() time.Time
}

// New creates a Router from opts.
func New(opts Options) (*Router, error) {
	if opts.Config == nil {
		return nil, errors.New("config source is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Health == nil {
		return nil, errors.New("health monitor is required")
	}
	return &Router{
		config:     opts.Config,
		dispatcher: opts.Dispatcher,
		health:     opts.Health,
		usage:      opts.Usage,
		selector:   NewSelector(),
		fallback:   strategies.NewFallback(opts.Dispatcher, opts.Health),
		now:        time.Now,
	}, nil
}

// Outcome describes a served request.
type Outcome struct {
	Response *providers.Response
	Model    string
	Provider string
	Rule     Rule
	Reason   strategies.Reason
	Attempts int
	Context  AgentContext
	Latency  time.Duration
}

// Handle routes one Messages payload. raw is the request body and meta the
// routing hints that came with it.
//
// Malformed bodies and streaming requests fail with *routeerr.ParseError;
// an explicit "provider,model" naming an unknown provider fails with
// *routeerr.NotFoundError. Dispatch failures surface as
// *routeerr.NoHealthyProviderError or *routeerr.FallbackExhaustedError.
func (r *Router) Handle(ctx context.Context, raw []byte, meta Metadata) (*Outcome, error) {
	start := r.now()
	log := logging.FromContext(ctx).With("component", "router")

	req, err := providers.ParseRequest(raw)
	if err != nil {
		return nil, &routeerr.ParseError{Field: "body", Err: err}
	}
	if req.Stream {
		return nil, &routeerr.ParseError{Field: "body", Err: errors.New("streaming responses are not supported")}
	}

	cfg := r.config.Load(ctx)
	actx := ExtractContext(meta, log)
	if actx.EstimatedTokens == 0 {
		actx.EstimatedTokens = providers.EstimateTokens(req)
	}

	sel := r.selector.Select(SelectInput{
		RequestedModel: req.Model,
		Thinking:       req.Thinking,
		Context:        actx,
	}, cfg)
	metrics.SelectionRule.WithLabelValues(string(sel.Rule)).Inc()

	requested := req.Model
	target, eps, err := r.candidates(sel, cfg)
	if err != nil {
		metrics.RoutingFailures.WithLabelValues(failureKind(err)).Inc()
		return nil, err
	}
	if req, err = req.WithModel(target); err != nil {
		return nil, &routeerr.ParseError{Field: "model", Err: err}
	}

	log = log.With("model", target, "rule", string(sel.Rule))
	log.Debug("model selected", "requested", requested, "estimated_tokens", actx.EstimatedTokens)

	fallback := r.fallback
	if !cfg.Monitoring.HealthChecks {
		fallback = strategies.NewFallback(r.dispatcher, strategies.NewUnmonitored())
	}
	result, routeErr := fallback.Route(ctx, req, target, eps, cfg.MaxAttempts())

	out := &Outcome{
		Model:    target,
		Provider: result.Provider,
		Rule:     sel.Rule,
		Reason:   result.Reason,
		Attempts: result.Attempts,
		Context:  actx,
		Latency:  r.now().Sub(start),
	}
	if routeErr == nil {
		out.Response = result.Response
		if out.Reason == strategies.ReasonPrimary && sel.Rule == RuleDefault {
			out.Reason = strategies.ReasonDefault
		}
	} else if result.Attempts > 1 {
		out.Reason = strategies.ReasonFallback
	} else {
		out.Reason = strategies.ReasonPrimary
	}

	r.observe(ctx, cfg, out, routeErr)

	if routeErr != nil {
		log.Warn("request failed", "provider", out.Provider, "attempts", out.Attempts, "error", routeErr)
		return nil, routeErr
	}
	log.Info("request routed",
		"provider", out.Provider,
		"reason", string(out.Reason),
		"attempts", out.Attempts,
		"latency_ms", out.Latency.Milliseconds(),
	)
	return out, nil
}

// candidates resolves the dispatch target and the endpoints allowed to serve it.
func (r *Router) candidates(sel Selection, cfg RouterConfig) (string, []providers.Endpoint, error) {
	if sel.Rule != RuleExplicit {
		return sel.Model, cfg.Endpoints(), nil
	}
	name, target, ok := SplitExplicit(sel.Model)
	if !ok {
		return "", nil, &routeerr.ParseError{
			Field: "model",
			Err:   fmt.Errorf("%q is not a provider,model pair", sel.Model),
		}
	}
	ep, ok := cfg.Endpoint(name)
	if !ok {
		return "", nil, &routeerr.NotFoundError{Resource: "provider", Name: name}
	}
	// The caller chose the provider; it serves whatever model they asked for.
	ep.Models = []string{target}
	return target, []providers.Endpoint{ep}, nil
}

func (r *Router) observe(ctx context.Context, cfg RouterConfig, out *Outcome, routeErr error) {
	status := "success"
	if routeErr != nil {
		status = "error"
		metrics.RoutingFailures.WithLabelValues(failureKind(routeErr)).Inc()
	}
	provider := out.Provider
	if provider == "" {
		provider = "none"
	}
	metrics.RequestsTotal.WithLabelValues(provider, out.Model, status).Inc()
	metrics.RequestDuration.WithLabelValues(provider, out.Model).Observe(out.Latency.Seconds())
	metrics.RoutingReason.WithLabelValues(string(out.Reason)).Inc()

	rec := usage.Record{
		ProjectID:     out.Context.ProjectID,
		AgentID:       out.Context.AgentID,
		AgentType:     string(out.Context.AgentType),
		TaskType:      out.Context.TaskType,
		Model:         out.Model,
		Provider:      out.Provider,
		LatencyMs:     out.Latency.Milliseconds(),
		Success:       routeErr == nil,
		RoutingReason: string(out.Reason),
	}
	if routeErr != nil {
		rec.Error = routeErr.Error()
	}
	if resp := out.Response; resp != nil {
		rec.Tokens = usage.Tokens{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
			Total:  resp.Usage.Total(),
		}
		metrics.TokensInput.WithLabelValues(provider, out.Model).Add(float64(resp.Usage.InputTokens))
		metrics.TokensOutput.WithLabelValues(provider, out.Model).Add(float64(resp.Usage.OutputTokens))
		if cfg.Monitoring.CostTracking {
			rec.Cost = providers.EstimateCost(out.Model, resp.Usage)
			metrics.CostTotal.WithLabelValues(provider, out.Model).Add(rec.Cost)
		}
	}

	if cfg.Monitoring.UsageTracking && r.usage != nil {
		// The record outlives a client that hung up mid-dispatch.
		r.usage.Record(context.WithoutCancel(ctx), rec)
	}
}

func failureKind(err error) string {
	var (
		noHealthy *routeerr.NoHealthyProviderError
		exhausted *routeerr.FallbackExhaustedError
		notFound  *routeerr.NotFoundError
		parse     *routeerr.ParseError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &noHealthy):
		return "no_healthy_provider"
	case errors.As(err, &exhausted):
		return "fallback_exhausted"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &parse):
		return "bad_request"
	default:
		return "internal"
	}
}

// TestResult is the outcome of an ad-hoc model test.
type TestResult struct {
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latency"`
	Model     string `json:"model"`
	Provider  string `json:"provider"`
	Error     string `json:"error,omitempty"`
}

// TestModel sends one minimal request for model straight to the named
// provider, bypassing selection and health. Only an unknown provider is an
// error; upstream failures are reported in the result.
func (r *Router) TestModel(ctx context.Context, provider, model string) (TestResult, error) {
	cfg := r.config.Load(ctx)
	ep, ok := cfg.Endpoint(provider)
	if !ok {
		return TestResult{}, &routeerr.NotFoundError{Resource: "provider", Name: provider}
	}
	ep.Models = []string{model}

	start := r.now()
	_, err := r.dispatcher.Dispatch(ctx, ep, providers.PingRequest(model))
	res := TestResult{
		Success:   err == nil,
		LatencyMs: r.now().Sub(start).Milliseconds(),
		Model:     model,
		Provider:  provider,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res, nil
}

// CheckHealth probes every configured provider concurrently and summarizes
// the results.
func (r *Router) CheckHealth(ctx context.Context) health.Summary {
	cfg := r.config.Load(ctx)
	results := r.health.ProbeAll(ctx, cfg.Endpoints())
	return health.Summarize(results, r.now().UTC())
}

// Reprobe refreshes health for the configured providers when health checks
// are enabled. It is the background sweeper's re-probe hook.
func (r *Router) Reprobe(ctx context.Context) {
	cfg := r.config.Load(ctx)
	if !cfg.Monitoring.HealthChecks {
		return
	}
	r.health.ProbeAll(ctx, cfg.Endpoints())
}

// PruneHealth drops health state for providers cfg no longer names.
func (r *Router) PruneHealth(cfg RouterConfig) {
	r.health.Prune(cfg.ProviderNames())
}
