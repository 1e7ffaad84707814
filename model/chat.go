package model

import "github.com/spetersoncode/hanabi"

// ChatModel is a well-known chat model of one provider.
type ChatModel struct {
	ID       string
	Provider hanabi.Provider
	Pricing  ChatPricing
}

// String returns the API identifier for this model.
func (m ChatModel) String() string { return m.ID }

// Cost estimates the USD cost of usage on this model.
func (m ChatModel) Cost(usage hanabi.Usage) float64 {
	return CalculateCost(usage, m.Pricing)
}

// Anthropic Claude models.
// Model pricing last verified: December 14, 2025
var (
	ClaudeOpus45   = ChatModel{ID: "claude-opus-4-5", Provider: hanabi.ProviderAnthropic, Pricing: ChatPricing{InputPerMillion: 5.00, OutputPerMillion: 25.00}}
	ClaudeSonnet45 = ChatModel{ID: "claude-sonnet-4-5", Provider: hanabi.ProviderAnthropic, Pricing: ChatPricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}}
	ClaudeHaiku45  = ChatModel{ID: "claude-haiku-4-5", Provider: hanabi.ProviderAnthropic, Pricing: ChatPricing{InputPerMillion: 1.00, OutputPerMillion: 5.00}}
)

// OpenAI GPT and o-series models.
// Model pricing last verified: December 14, 2025
var (
	GPT52    = ChatModel{ID: "gpt-5.2", Provider: hanabi.ProviderOpenAI, Pricing: ChatPricing{InputPerMillion: 1.75, OutputPerMillion: 14.00, CachedInputPerMillion: 0.175}}
	GPT51    = ChatModel{ID: "gpt-5.1", Provider: hanabi.ProviderOpenAI, Pricing: ChatPricing{InputPerMillion: 1.25, OutputPerMillion: 10.00, CachedInputPerMillion: 0.125}}
	GPT5Mini = ChatModel{ID: "gpt-5-mini", Provider: hanabi.ProviderOpenAI, Pricing: ChatPricing{InputPerMillion: 0.25, OutputPerMillion: 1.00, CachedInputPerMillion: 0.025}}
	GPT5Nano = ChatModel{ID: "gpt-5-nano", Provider: hanabi.ProviderOpenAI, Pricing: ChatPricing{InputPerMillion: 0.10, OutputPerMillion: 0.40, CachedInputPerMillion: 0.01}}
	GPT4o    = ChatModel{ID: "gpt-4o", Provider: hanabi.ProviderOpenAI, Pricing: ChatPricing{InputPerMillion: 2.50, OutputPerMillion: 10.00, CachedInputPerMillion: 1.25}}
	O3       = ChatModel{ID: "o3", Provider: hanabi.ProviderOpenAI, Pricing: ChatPricing{InputPerMillion: 2.00, OutputPerMillion: 8.00, CachedInputPerMillion: 0.50}}
	O4Mini   = ChatModel{ID: "o4-mini", Provider: hanabi.ProviderOpenAI, Pricing: ChatPricing{InputPerMillion: 1.10, OutputPerMillion: 4.40, CachedInputPerMillion: 0.275}}
)

// Google Gemini models.
// Model pricing last verified: December 14, 2025
var (
	Gemini25Pro       = ChatModel{ID: "gemini-2.5-pro", Provider: hanabi.ProviderGoogle, Pricing: ChatPricing{InputPerMillion: 1.25, OutputPerMillion: 10.00, InputPerMillionLong: 2.50, OutputPerMillionLong: 15.00}}
	Gemini25Flash     = ChatModel{ID: "gemini-2.5-flash", Provider: hanabi.ProviderGoogle, Pricing: ChatPricing{InputPerMillion: 0.30, OutputPerMillion: 2.50}}
	Gemini25FlashLite = ChatModel{ID: "gemini-2.5-flash-lite", Provider: hanabi.ProviderGoogle, Pricing: ChatPricing{InputPerMillion: 0.10, OutputPerMillion: 0.40}}
)

// Models served through OpenAI-compatible endpoints.
var (
	DeepseekChat     = ChatModel{ID: "deepseek-chat", Provider: hanabi.ProviderDeepseek, Pricing: ChatPricing{InputPerMillion: 0.28, OutputPerMillion: 0.42, CachedInputPerMillion: 0.028}}
	DeepseekReasoner = ChatModel{ID: "deepseek-reasoner", Provider: hanabi.ProviderDeepseek, Pricing: ChatPricing{InputPerMillion: 0.28, OutputPerMillion: 0.42, CachedInputPerMillion: 0.028}}
	Llama33Versatile = ChatModel{ID: "llama-3.3-70b-versatile", Provider: hanabi.ProviderGroq, Pricing: ChatPricing{InputPerMillion: 0.59, OutputPerMillion: 0.79}}
	Grok4            = ChatModel{ID: "grok-4", Provider: hanabi.ProviderXAI, Pricing: ChatPricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}}
	Grok3Mini        = ChatModel{ID: "grok-3-mini", Provider: hanabi.ProviderXAI, Pricing: ChatPricing{InputPerMillion: 0.30, OutputPerMillion: 0.50}}
)

// Known lists the catalog in display order.
var Known = []ChatModel{
	ClaudeSonnet45, ClaudeOpus45, ClaudeHaiku45,
	GPT52, GPT51, GPT5Mini, GPT5Nano, GPT4o, O3, O4Mini,
	Gemini25Flash, Gemini25Pro, Gemini25FlashLite,
	DeepseekChat, DeepseekReasoner,
	Llama33Versatile,
	Grok4, Grok3Mini,
}

// ForProvider returns the known models of p. Azure deployments usually carry
// OpenAI model names, so Azure gets the OpenAI list.
func ForProvider(p hanabi.Provider) []ChatModel {
	if p == hanabi.ProviderAzure {
		p = hanabi.ProviderOpenAI
	}
	var out []ChatModel
	for _, m := range Known {
		if m.Provider == p {
			out = append(out, m)
		}
	}
	return out
}

// Lookup finds a known model by id.
func Lookup(id string) (ChatModel, bool) {
	for _, m := range Known {
		if m.ID == id {
			return m, true
		}
	}
	return ChatModel{}, false
}
