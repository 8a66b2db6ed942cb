package agentrouter

import (
	"maps"
	"slices"
	"sort"

	"github.com/ferro-labs/agent-router/providers"
)

// RouterConfig holds the routing configuration managed by the config store.
type RouterConfig struct {
	// Models maps routing slots to model ids.
	Models ModelsConfig `json:"models" yaml:"models" toml:"models"`
	// Providers maps provider names to their endpoints and served models.
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	// Routing toggles selection and bounds retries.
	Routing RoutingConfig `json:"routing" yaml:"routing" toml:"routing"`
	// Monitoring toggles usage, health and cost tracking.
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring" toml:"monitoring"`
}

// ModelsConfig holds the six model slots used by model selection.
type ModelsConfig struct {
	Default     string `json:"default" yaml:"default" toml:"default"`
	Coder       string `json:"coder" yaml:"coder" toml:"coder"`
	Tool        string `json:"tool" yaml:"tool" toml:"tool"`
	Think       string `json:"think" yaml:"think" toml:"think"`
	Fast        string `json:"fast" yaml:"fast" toml:"fast"`
	LongContext string `json:"longContext" yaml:"longContext" toml:"longContext"`
}

// ProviderConfig holds credentials, endpoint and model list for one provider.
type ProviderConfig struct {
	APIKey  string   `json:"apiKey" yaml:"apiKey" toml:"apiKey"`
	BaseURL string   `json:"baseUrl" yaml:"baseUrl" toml:"baseUrl"`
	Models  []string `json:"models" yaml:"models" toml:"models"`
	// Type selects the wire protocol, "anthropic" (default) or "openai".
	Type providers.Kind `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
}

// RoutingConfig controls model selection and fallback.
type RoutingConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	FallbackEnabled bool `json:"fallbackEnabled" yaml:"fallbackEnabled" toml:"fallbackEnabled"`
	// RetryAttempts bounds total dispatch attempts per request, first included.
	RetryAttempts int `json:"retryAttempts" yaml:"retryAttempts" toml:"retryAttempts"`
	// FastModelPattern is a regexp matched against the requested model to
	// detect background/fast traffic.
	FastModelPattern string `json:"fastModelPattern,omitempty" yaml:"fastModelPattern,omitempty" toml:"fastModelPattern,omitempty"`
}

// MonitoringConfig toggles the telemetry the router keeps.
type MonitoringConfig struct {
	UsageTracking bool `json:"usageTracking" yaml:"usageTracking" toml:"usageTracking"`
	HealthChecks  bool `json:"healthChecks" yaml:"healthChecks" toml:"healthChecks"`
	CostTracking  bool `json:"costTracking" yaml:"costTracking" toml:"costTracking"`
}

// DefaultFastModelPattern matches Anthropic's small-model family, which
// coding agents use for background work.
const DefaultFastModelPattern = `(?i)haiku`

// DefaultConfig returns the configuration used when nothing is stored.
func DefaultConfig() RouterConfig {
	return RouterConfig{
		Models: ModelsConfig{
			Default:     "claude-sonnet-4-20250514",
			Coder:       "claude-sonnet-4-20250514",
			Tool:        "claude-sonnet-4-20250514",
			Think:       "claude-opus-4-20250514",
			Fast:        "claude-3-5-haiku-20241022",
			LongContext: "claude-sonnet-4-20250514",
		},
		Providers: map[string]ProviderConfig{},
		Routing:   DefaultRoutingConfig(),
		Monitoring: MonitoringConfig{
			UsageTracking: true,
			HealthChecks:  true,
			CostTracking:  true,
		},
	}
}

// DefaultRoutingConfig returns routing defaults; routing patches decode on top of it.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		Enabled:          true,
		FallbackEnabled:  true,
		RetryAttempts:    3,
		FastModelPattern: DefaultFastModelPattern,
	}
}

// Clone returns a deep copy so callers can't mutate the store's view.
func (c RouterConfig) Clone() RouterConfig {
	out := c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		p.Models = slices.Clone(p.Models)
		out.Providers[name] = p
	}
	return out
}

// MaxAttempts returns the dispatch attempt bound for one request.
// Disabled fallback means a single attempt; zero retryAttempts still
// allows the first attempt.
func (c RouterConfig) MaxAttempts() int {
	if !c.Routing.FallbackEnabled || c.Routing.RetryAttempts < 1 {
		return 1
	}
	return c.Routing.RetryAttempts
}

// Endpoint returns the dispatch endpoint for a named provider.
func (c RouterConfig) Endpoint(name string) (providers.Endpoint, bool) {
	p, ok := c.Providers[name]
	if !ok {
		return providers.Endpoint{}, false
	}
	kind := p.Type
	if kind == "" {
		kind = providers.KindAnthropic
	}
	return providers.Endpoint{
		Name:    name,
		Kind:    kind,
		BaseURL: p.BaseURL,
		APIKey:  p.APIKey,
		Models:  slices.Clone(p.Models),
	}, true
}

// Endpoints returns every configured provider as an endpoint, sorted by name.
func (c RouterConfig) Endpoints() []providers.Endpoint {
	names := slices.Collect(maps.Keys(c.Providers))
	sort.Strings(names)
	out := make([]providers.Endpoint, 0, len(names))
	for _, name := range names {
		ep, _ := c.Endpoint(name)
		out = append(out, ep)
	}
	return out
}

// ProviderNames returns the configured provider names, sorted.
func (c RouterConfig) ProviderNames() []string {
	names := slices.Collect(maps.Keys(c.Providers))
	sort.Strings(names)
	return names
}
