package providers

import "strings"

// ModelPricing holds per-token prices in USD per 1 million tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// PricingTable maps model ids (or id prefixes) to pricing data. Provider
// names are operator-chosen, so prices are keyed by model only.
// This table is best-effort and may lag behind provider price changes.
var PricingTable = map[string]ModelPricing{
	// Anthropic
	"claude-opus-4":              {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-sonnet-4":            {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-7-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},

	// OpenAI
	"gpt-4o":        {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":   {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":       {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":  {InputPer1M: 0.40, OutputPer1M: 1.60},
	"gpt-4-turbo":   {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo": {InputPer1M: 0.50, OutputPer1M: 1.50},
	"o3-mini":       {InputPer1M: 1.10, OutputPer1M: 4.40},

	// OpenAI-compatible hosts
	"deepseek-chat":           {InputPer1M: 0.27, OutputPer1M: 1.10},
	"deepseek-reasoner":       {InputPer1M: 0.55, OutputPer1M: 2.19},
	"llama-3.3-70b-versatile": {InputPer1M: 0.59, OutputPer1M: 0.79},
	"mistral-large-latest":    {InputPer1M: 2.00, OutputPer1M: 6.00},
}

// LookupPricing finds pricing for model by exact id, then by the longest
// table key that prefixes it (so dated snapshots inherit family prices).
func LookupPricing(model string) (ModelPricing, bool) {
	if p, ok := PricingTable[model]; ok {
		return p, true
	}
	best := ""
	for key := range PricingTable {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return ModelPricing{}, false
	}
	return PricingTable[best], true
}

// EstimateCost returns the estimated cost in USD for usage on model, or
// zero when the model has no known price.
func EstimateCost(model string, usage Usage) float64 {
	p, ok := LookupPricing(model)
	if !ok {
		return 0
	}
	inputCost := float64(usage.InputTokens) / 1_000_000 * p.InputPer1M
	outputCost := float64(usage.OutputTokens) / 1_000_000 * p.OutputPer1M
	return inputCost + outputCost
}
