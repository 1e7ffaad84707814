package hanabi

// Provider identifies a language model provider as named in configuration.
type Provider string

// String returns the provider identifier.
func (p Provider) String() string { return string(p) }

// Supported providers.
const (
	ProviderOpenAI           Provider = "OpenAI"
	ProviderGoogle           Provider = "Google"
	ProviderDeepseek         Provider = "Deepseek"
	ProviderAzure            Provider = "Azure"
	ProviderOllama           Provider = "Ollama"
	ProviderGroq             Provider = "Groq"
	ProviderXAI              Provider = "xAI"
	ProviderAnthropic        Provider = "Anthropic"
	ProviderOpenAICompatible Provider = "OpenAI-Compatible"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{
	ProviderOpenAI,
	ProviderGoogle,
	ProviderDeepseek,
	ProviderAzure,
	ProviderOllama,
	ProviderGroq,
	ProviderXAI,
	ProviderAnthropic,
	ProviderOpenAICompatible,
}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}
