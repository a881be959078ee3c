// Package cost estimates provider spend for a run.
package cost

import (
	"github.com/sells-group/distill-cli/internal/model"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	Tavily    TavilyRate           `yaml:"tavily" mapstructure:"tavily"`
	Jina      JinaRate             `yaml:"jina" mapstructure:"jina"`
	Firecrawl FirecrawlRate        `yaml:"firecrawl" mapstructure:"firecrawl"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// TavilyRate holds Tavily Extract pricing.
type TavilyRate struct {
	PerCredit float64 `yaml:"per_credit" mapstructure:"per_credit"`
}

// JinaRate holds Jina Reader pricing.
type JinaRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// FirecrawlRate holds Firecrawl pricing. One scraped page costs one credit.
type FirecrawlRate struct {
	PlanMonthly     float64 `yaml:"plan_monthly" mapstructure:"plan_monthly"`
	CreditsIncluded float64 `yaml:"credits_included" mapstructure:"credits_included"`
}

// tavilyURLsPerCredit is the number of successful extractions billed as one
// credit unit at basic depth. Advanced depth bills two units.
const tavilyURLsPerCredit = 5

// bytesPerToken approximates Jina token counts from extracted text size.
const bytesPerToken = 4

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, isBatch bool, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	batchMul := 1.0
	if isBatch {
		batchMul = rate.BatchDiscount
	}

	inCost := (float64(input) / 1e6) * rate.Input * batchMul
	outCost := (float64(output) / 1e6) * rate.Output * batchMul
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul * batchMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul * batchMul

	return inCost + outCost + cwCost + crCost
}

// Gemini computes the cost for Gemini token usage. Thinking tokens bill at
// the output rate.
func (c *Calculator) Gemini(model string, input, output, thinking int) float64 {
	rate, ok := c.rates.Gemini[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output+thinking)/1e6)*rate.Output
}

// Rewrite prices token usage for the named rewrite provider.
func (c *Calculator) Rewrite(params model.RewriteParams, usage model.TokenUsage) float64 {
	switch params.Provider {
	case "anthropic":
		return c.Claude(params.Model, false, usage.InputTokens, usage.OutputTokens+usage.ThinkingTokens, 0, 0)
	case "gemini":
		return c.Gemini(params.Model, usage.InputTokens, usage.OutputTokens, usage.ThinkingTokens)
	default:
		return 0
	}
}

// TavilyCredits returns the credits billed for successful extractions at
// the given depth. Partial groups round up.
func TavilyCredits(depth string, succeeded int) int {
	if succeeded <= 0 {
		return 0
	}
	units := (succeeded + tavilyURLsPerCredit - 1) / tavilyURLsPerCredit
	if depth == "advanced" {
		return units * 2
	}
	return units
}

// Tavily computes the cost of successful Tavily extractions.
func (c *Calculator) Tavily(depth string, succeeded int) float64 {
	return float64(TavilyCredits(depth, succeeded)) * c.rates.Tavily.PerCredit
}

// Jina computes the cost for Jina Reader token usage.
func (c *Calculator) Jina(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Jina.PerMTok
}

// Firecrawl computes the plan-amortized cost of scraped pages.
func (c *Calculator) Firecrawl(pages int) float64 {
	if c.rates.Firecrawl.CreditsIncluded <= 0 {
		return 0
	}
	return float64(pages) * c.rates.Firecrawl.PlanMonthly / c.rates.Firecrawl.CreditsIncluded
}

// Extraction prices a run's successful extractions for the named backend.
// rawBytes is the total size of extracted content.
func (c *Calculator) Extraction(provider, depth string, succeeded, rawBytes int) float64 {
	switch provider {
	case "tavily":
		return c.Tavily(depth, succeeded)
	case "jina":
		return c.Jina(rawBytes / bytesPerToken)
	case "firecrawl":
		return c.Firecrawl(succeeded)
	default:
		return 0
	}
}

// ForRun returns an estimator for run snapshots. A job counts as a
// successful extraction once its raw content stats are recorded, whatever
// its final status. Rewrite tokens are priced for the run's rewriter.
func (c *Calculator) ForRun(provider, depth string) func(*model.RunResult) float64 {
	return func(res *model.RunResult) float64 {
		var succeeded, rawBytes int
		for i := range res.Jobs {
			if s := res.Jobs[i].RawStats; s != nil {
				succeeded++
				rawBytes += s.Bytes
			}
		}
		return c.Extraction(provider, depth, succeeded, rawBytes) + c.Rewrite(res.Config.Rewrite, res.Usage)
	}
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash":      {Input: 0.30, Output: 2.50},
			"gemini-2.5-flash-lite": {Input: 0.10, Output: 0.40},
			"gemini-2.5-pro":        {Input: 1.25, Output: 10.00},
		},
		Tavily:    TavilyRate{PerCredit: 0.008},
		Jina:      JinaRate{PerMTok: 0.02},
		Firecrawl: FirecrawlRate{PlanMonthly: 19.00, CreditsIncluded: 3000},
	}
}
