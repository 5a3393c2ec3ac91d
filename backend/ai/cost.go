package ai

import "strings"

// per million tokens, USD
type price struct {
	input  float64
	output float64
}

var prices = map[string]price{
	"gemini-2.5-pro":        {input: 1.25, output: 10.00},
	"gemini-2.5-flash":      {input: 0.30, output: 2.50},
	"gemini-2.5-flash-lite": {input: 0.10, output: 0.40},
	"gemini-2.0-flash":      {input: 0.10, output: 0.40},
}

// CostUSD estimates what a call with the given usage cost. Unknown models are
// priced like the default model.
func CostUSD(model string, u Usage) float64 {
	p, ok := prices[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		p = prices[DefaultModel]
	}
	return (float64(u.PromptTokens)*p.input + float64(u.CompletionTokens)*p.output) / 1_000_000
}
