package budget

import "strings"

// Price is the USD cost per 1k tokens for one model.
type Price struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// Pricing maps model ids to prices. The "default" key is used for unknown models.
type Pricing map[string]Price

// DefaultPricing returns list prices for the models the providers ship with.
func DefaultPricing() Pricing {
	return Pricing{
		"claude-sonnet-4-20250514": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-opus-4-20250514":   {InputPer1K: 0.015, OutputPer1K: 0.075},
		"claude-3-5-haiku-latest":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
		"gpt-4o":                   {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":              {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"default":                  {InputPer1K: 0.003, OutputPer1K: 0.015},
	}
}

// Lookup returns the price for a model, falling back to a prefix match and then "default".
func (p Pricing) Lookup(model string) Price {
	if pr, ok := p[model]; ok {
		return pr
	}
	best := ""
	for name := range p {
		if name != "default" && strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return p[best]
	}
	return p["default"]
}

// Cost computes the USD cost of a call.
func (p Pricing) Cost(model string, inTokens, outTokens int) float64 {
	pr := p.Lookup(model)
	return float64(inTokens)/1000*pr.InputPer1K + float64(outTokens)/1000*pr.OutputPer1K
}
