package llm

// Pricing is the per-million-token price of a model, in USD.
type Pricing struct {
	In  float64
	Out float64
}

// pricing holds the known model prices. Unknown models cost zero, which
// keeps the budget gate conservative rather than blocking on a missing
// table entry.
var pricing = map[string]Pricing{
	"gpt-4o-mini": {In: 0.15, Out: 0.60},
	"gpt-4o":      {In: 2.50, Out: 10.00},
}

// CalculateCost returns the USD cost of a call given its token counts.
func CalculateCost(model string, tokensIn, tokensOut int) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)/1e6*p.In + float64(tokensOut)/1e6*p.Out
}
