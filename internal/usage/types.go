package usage

import "strings"

// TokenCounts holds input/output sums plus an estimated dollar cost.
type TokenCounts struct {
	Input  int64   `json:"input"`
	Output int64   `json:"output"`
	Total  int64   `json:"total"`
	Cost   float64 `json:"cost_est_usd"`
}

func (tc *TokenCounts) add(input, output int, cost float64) {
	tc.Input += int64(input)
	tc.Output += int64(output)
	tc.Total += int64(input + output)
	tc.Cost += cost
}

// Stats is a point-in-time snapshot of cumulative usage. Maps are copies;
// mutating a snapshot does not affect the tracker.
type Stats struct {
	Calls      int64                  `json:"calls"`
	Total      TokenCounts            `json:"total"`
	ByProvider map[string]TokenCounts `json:"by_provider"`
	ByModel    map[string]TokenCounts `json:"by_model"`
	ByStage    map[string]TokenCounts `json:"by_stage"` // constraints, base, fitting, evaluation, merge
}

// modelPricing lists USD per 1M tokens (input, output) for cost estimation.
// Unlisted models are counted at zero cost; token totals are still exact.
var modelPricing = map[string]struct{ in, out float64 }{
	"gpt-4o":            {2.50, 10.00},
	"gpt-4o-mini":       {0.15, 0.60},
	"gpt-4-turbo":       {10.00, 30.00},
	"claude-3-5-sonnet": {3.00, 15.00},
	"claude-3-5-haiku":  {0.80, 4.00},
	"claude-3-opus":     {15.00, 75.00},
	"gemini-1.5-pro":    {1.25, 5.00},
	"gemini-1.5-flash":  {0.075, 0.30},
	"gemini-2.0-flash":  {0.10, 0.40},
}

// estimateCost returns the estimated USD cost for one call. Model names are
// matched by longest known prefix so dated snapshots (gpt-4o-2024-08-06)
// price like their family.
func estimateCost(model string, input, output int) float64 {
	best := ""
	for name := range modelPricing {
		if len(name) > len(best) && strings.HasPrefix(model, name) {
			best = name
		}
	}
	if best == "" {
		return 0
	}
	p := modelPricing[best]
	return float64(input)/1e6*p.in + float64(output)/1e6*p.out
}
