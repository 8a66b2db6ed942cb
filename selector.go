package agentrouter

import (
	"regexp"
	"strings"
	"sync"
)

// LongContextThreshold is the estimated prompt size above which the
// long-context model is preferred.
const LongContextThreshold = 60_000

// Rule names the selection rule that produced a model.
type Rule string

// Selection rules in precedence order.
const (
	RuleExplicit    Rule = "explicit"
	RuleLongContext Rule = "long_context"
	RuleAgentType   Rule = "agent_type"
	RuleFast        Rule = "fast"
	RuleThink       Rule = "think"
	RuleDefault     Rule = "default"
	// RuleDisabled means routing is off and the requested model is used as-is.
	RuleDisabled Rule = "disabled"
)

// Selection is the outcome of model selection.
type Selection struct {
	Model string
	Rule  Rule
}

// SelectInput is what the selector looks at for one request.
type SelectInput struct {
	RequestedModel string
	Thinking       bool
	Context        AgentContext
}

// Selector resolves a logical model using one ordered precedence. It caches
// the compiled fast-model pattern between calls.
type Selector struct {
	mu      sync.Mutex
	pattern string
	re      *regexp.Regexp
}

// NewSelector creates a Selector.
func NewSelector() *Selector {
	return &Selector{}
}

// Select picks a model for in under cfg; the first matching rule wins.
func (s *Selector) Select(in SelectInput, cfg RouterConfig) Selection {
	models := cfg.Models

	// A provider,model override applies even with routing disabled.
	if strings.Contains(in.RequestedModel, ",") {
		return Selection{Model: in.RequestedModel, Rule: RuleExplicit}
	}
	if !cfg.Routing.Enabled {
		return Selection{Model: in.RequestedModel, Rule: RuleDisabled}
	}
	if in.Context.EstimatedTokens > LongContextThreshold && models.LongContext != "" {
		return Selection{Model: models.LongContext, Rule: RuleLongContext}
	}
	if in.Context.AgentType != "" {
		return Selection{Model: agentTypeModel(in.Context.AgentType, models), Rule: RuleAgentType}
	}
	if models.Fast != "" && s.matchesFast(in.RequestedModel, cfg.Routing.FastModelPattern) {
		return Selection{Model: models.Fast, Rule: RuleFast}
	}
	if in.Thinking && models.Think != "" {
		return Selection{Model: models.Think, Rule: RuleThink}
	}
	return Selection{Model: models.Default, Rule: RuleDefault}
}

func agentTypeModel(t AgentType, models ModelsConfig) string {
	var slot string
	switch t {
	case AgentCoding:
		slot = models.Coder
	case AgentAnalysis:
		slot = models.Tool
	case AgentReasoning:
		slot = models.Think
	}
	if slot == "" {
		return models.Default
	}
	return slot
}

func (s *Selector) matchesFast(model, pattern string) bool {
	if model == "" {
		return false
	}
	if pattern == "" {
		pattern = DefaultFastModelPattern
	}

	s.mu.Lock()
	if s.re == nil || s.pattern != pattern {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Stored configs are validated on save; fall back to the default.
			re = regexp.MustCompile(DefaultFastModelPattern)
		}
		s.pattern, s.re = pattern, re
	}
	re := s.re
	s.mu.Unlock()

	return re.MatchString(model)
}

// SplitExplicit splits a "provider,model" override. ok is false when the
// value does not have exactly that shape.
func SplitExplicit(model string) (provider, target string, ok bool) {
	provider, target, found := strings.Cut(model, ",")
	provider = strings.TrimSpace(provider)
	target = strings.TrimSpace(target)
	if !found || provider == "" || target == "" || strings.Contains(target, ",") {
		return "", "", false
	}
	return provider, target, true
}
