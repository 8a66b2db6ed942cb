package agentrouter

import (
	"testing"
)

func selectorConfig() RouterConfig {
	cfg := DefaultConfig()
	cfg.Models = ModelsConfig{
		Default:     "default-m",
		Coder:       "coder-m",
		Tool:        "tool-m",
		Think:       "think-m",
		Fast:        "fast-m",
		LongContext: "long-m",
	}
	return cfg
}

func TestSelector_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		in       SelectInput
		mutate   func(*RouterConfig)
		wantRule Rule
		want     string
	}{
		{
			name:     "explicit multi-model passes through",
			in:       SelectInput{RequestedModel: "openrouter,gpt-4o", Context: AgentContext{EstimatedTokens: 100_000}},
			wantRule: RuleExplicit, want: "openrouter,gpt-4o",
		},
		{
			name:     "long context beats agent type",
			in:       SelectInput{Context: AgentContext{EstimatedTokens: 60_001, AgentType: AgentCoding}},
			wantRule: RuleLongContext, want: "long-m",
		},
		{
			name:     "threshold is exclusive",
			in:       SelectInput{Context: AgentContext{EstimatedTokens: 60_000}},
			wantRule: RuleDefault, want: "default-m",
		},
		{
			name:     "long context unset falls through",
			in:       SelectInput{Context: AgentContext{EstimatedTokens: 90_000}},
			mutate:   func(c *RouterConfig) { c.Models.LongContext = "" },
			wantRule: RuleDefault, want: "default-m",
		},
		{
			name:     "coding agent",
			in:       SelectInput{Context: AgentContext{AgentType: AgentCoding}},
			wantRule: RuleAgentType, want: "coder-m",
		},
		{
			name:     "analysis agent",
			in:       SelectInput{Context: AgentContext{AgentType: AgentAnalysis}},
			wantRule: RuleAgentType, want: "tool-m",
		},
		{
			name:     "reasoning agent",
			in:       SelectInput{Context: AgentContext{AgentType: AgentReasoning}},
			wantRule: RuleAgentType, want: "think-m",
		},
		{
			name:     "general agent",
			in:       SelectInput{Context: AgentContext{AgentType: AgentGeneral}},
			wantRule: RuleAgentType, want: "default-m",
		},
		{
			name:     "agent slot unset falls back to default",
			in:       SelectInput{Context: AgentContext{AgentType: AgentCoding}},
			mutate:   func(c *RouterConfig) { c.Models.Coder = "" },
			wantRule: RuleAgentType, want: "default-m",
		},
		{
			name:     "agent type beats fast pattern",
			in:       SelectInput{RequestedModel: "claude-3-5-haiku-20241022", Context: AgentContext{AgentType: AgentReasoning}},
			wantRule: RuleAgentType, want: "think-m",
		},
		{
			name:     "fast pattern",
			in:       SelectInput{RequestedModel: "claude-3-5-Haiku-20241022", Thinking: true},
			wantRule: RuleFast, want: "fast-m",
		},
		{
			name:     "custom fast pattern",
			in:       SelectInput{RequestedModel: "gpt-4o-mini"},
			mutate:   func(c *RouterConfig) { c.Routing.FastModelPattern = `-mini$` },
			wantRule: RuleFast, want: "fast-m",
		},
		{
			name:     "thinking flag",
			in:       SelectInput{RequestedModel: "claude-sonnet-4", Thinking: true},
			wantRule: RuleThink, want: "think-m",
		},
		{
			name:     "default",
			in:       SelectInput{RequestedModel: "claude-sonnet-4"},
			wantRule: RuleDefault, want: "default-m",
		},
		{
			name:     "routing disabled keeps requested model",
			in:       SelectInput{RequestedModel: "claude-sonnet-4", Context: AgentContext{AgentType: AgentCoding}},
			mutate:   func(c *RouterConfig) { c.Routing.Enabled = false },
			wantRule: RuleDisabled, want: "claude-sonnet-4",
		},
	}

	s := NewSelector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := selectorConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			got := s.Select(tt.in, cfg)
			if got.Rule != tt.wantRule || got.Model != tt.want {
				t.Errorf("Select() = %+v, want {%s %s}", got, tt.want, tt.wantRule)
			}
		})
	}
}

func TestSelector_CodingUsesCoderUpToLongContextThreshold(t *testing.T) {
	s := NewSelector()
	cfg := selectorConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig() error: %v", err)
	}
	for _, tokens := range []int{0, 1, 59_999, 60_000} {
		got := s.Select(SelectInput{Context: AgentContext{AgentType: AgentCoding, EstimatedTokens: tokens}}, cfg)
		if got.Model != "coder-m" || got.Rule != RuleAgentType {
			t.Errorf("tokens=%d: Select() = %+v, want coder-m via agent_type", tokens, got)
		}
	}
	// Past the threshold the long-context rule outranks the agent type.
	for _, tokens := range []int{60_001, 1_000_000} {
		got := s.Select(SelectInput{Context: AgentContext{AgentType: AgentCoding, EstimatedTokens: tokens}}, cfg)
		if got.Model != "long-m" || got.Rule != RuleLongContext {
			t.Errorf("tokens=%d: Select() = %+v, want long-m via long_context", tokens, got)
		}
	}
}

func TestSelector_ExplicitOverrideWithRoutingDisabled(t *testing.T) {
	s := NewSelector()
	cfg := selectorConfig()
	cfg.Routing.Enabled = false

	got := s.Select(SelectInput{RequestedModel: "beta,claude-sonnet-4"}, cfg)
	if got.Rule != RuleExplicit || got.Model != "beta,claude-sonnet-4" {
		t.Errorf("Select() = %+v, want explicit passthrough", got)
	}
}

func TestSplitExplicit(t *testing.T) {
	tests := []struct {
		in           string
		wantProvider string
		wantModel    string
		wantOK       bool
	}{
		{"openrouter,anthropic/claude-sonnet-4", "openrouter", "anthropic/claude-sonnet-4", true},
		{" local , qwen ", "local", "qwen", true},
		{"claude-sonnet-4", "", "", false},
		{",model", "", "", false},
		{"a,b,c", "", "", false},
	}
	for _, tt := range tests {
		p, m, ok := SplitExplicit(tt.in)
		if p != tt.wantProvider || m != tt.wantModel || ok != tt.wantOK {
			t.Errorf("SplitExplicit(%q) = (%q, %q, %v)", tt.in, p, m, ok)
		}
	}
}
