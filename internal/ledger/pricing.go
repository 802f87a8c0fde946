package ledger

// Pricing converts provider usage into USD. Rates are configuration, never
// hard-coded call sites.
type Pricing struct {
	// LLM rates are USD per million tokens.
	LLMRateInPerMTok  float64
	LLMRateOutPerMTok float64
}

// LLMCost prices one completion call from billed token counts.
func (p Pricing) LLMCost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*p.LLMRateInPerMTok +
		float64(outputTokens)/1e6*p.LLMRateOutPerMTok
}

// StripeFee prices one card transaction of the given USD amount.
func StripeFee(amountUSD float64) float64 {
	return 0.029*amountUSD + 0.30
}

// EmailCost is the fixed per-message delivery cost.
func EmailCost() float64 {
	return 0.0005
}

// infraCosts is the table of fixed per-operation infrastructure costs.
var infraCosts = map[string]float64{
	"object_put":    0.000005,
	"object_get":    0.0000004,
	"object_delete": 0.0000004,
	"queue_message": 0.0000004,
}

// InfraCost prices a named infrastructure operation; unknown operations are
// free rather than an error, so new operations can be priced later.
func InfraCost(operation string) float64 {
	return infraCosts[operation]
}
