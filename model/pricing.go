package model

import "github.com/spetersoncode/hanabi"

// LongContextThreshold is the prompt size above which long-context rates apply.
const LongContextThreshold = 200_000

// ChatPricing contains pricing per million tokens (USD) for chat models.
// Fields are zero if not applicable to a specific provider's model.
type ChatPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
	// CachedInputPerMillion is for prompt-cached input tokens.
	CachedInputPerMillion float64
	// InputPerMillionLong and OutputPerMillionLong apply to prompts above
	// LongContextThreshold tokens (Google only).
	InputPerMillionLong  float64
	OutputPerMillionLong float64
}

// HasCachedPricing returns true if the model supports cached input pricing.
func (p ChatPricing) HasCachedPricing() bool {
	return p.CachedInputPerMillion > 0
}

// HasLongContextPricing returns true if the model has tiered pricing for long context.
func (p ChatPricing) HasLongContextPricing() bool {
	return p.InputPerMillionLong > 0 || p.OutputPerMillionLong > 0
}

// CalculateCost estimates the USD cost of usage under pricing.
func CalculateCost(usage hanabi.Usage, pricing ChatPricing) float64 {
	in, out := pricing.InputPerMillion, pricing.OutputPerMillion
	if pricing.HasLongContextPricing() && usage.PromptTokens > LongContextThreshold {
		in, out = pricing.InputPerMillionLong, pricing.OutputPerMillionLong
	}
	return float64(usage.PromptTokens)/1e6*in + float64(usage.CompletionTokens)/1e6*out
}
