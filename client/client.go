package client

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/internal/provider/anthropic"
	"github.com/spetersoncode/hanabi/internal/provider/google"
	"github.com/spetersoncode/hanabi/internal/provider/openai"
)

const (
	// DefaultMaxRetries is how many times a transient model error is retried.
	DefaultMaxRetries = 2

	// DefaultRetryInterval is the first backoff interval.
	DefaultRetryInterval = time.Second
)

// Official endpoints for providers that speak the OpenAI chat completions API.
// An apiUrl in the configuration takes precedence.
var endpoints = map[hanabi.Provider]string{
	hanabi.ProviderOpenAI:   "https://api.openai.com/v1",
	hanabi.ProviderDeepseek: "https://api.deepseek.com",
	hanabi.ProviderOllama:   "http://localhost:11434/v1",
	hanabi.ProviderGroq:     "https://api.groq.com/openai/v1",
	hanabi.ProviderXAI:      "https://api.x.ai/v1",
}

// Environment variables consulted when an entry has no apiKey.
var keyEnv = map[hanabi.Provider]string{
	hanabi.ProviderOpenAI:    "OPENAI_API_KEY",
	hanabi.ProviderAzure:     "AZURE_API_KEY",
	hanabi.ProviderGoogle:    "GOOGLE_GENERATIVE_AI_API_KEY",
	hanabi.ProviderAnthropic: "ANTHROPIC_API_KEY",
	hanabi.ProviderDeepseek:  "DEEPSEEK_API_KEY",
	hanabi.ProviderGroq:      "GROQ_API_KEY",
	hanabi.ProviderXAI:       "XAI_API_KEY",
}

// provider is what every SDK adapter implements.
type provider interface {
	hanabi.ChatProvider
	ListModels(ctx context.Context) ([]string, error)
}

type settings struct {
	httpClient    *http.Client
	maxRetries    uint64
	retryInterval time.Duration
	log           zerolog.Logger
}

// Option configures provider construction.
type Option func(*settings)

// WithHTTPClient sets the HTTP client used by the provider SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithRetry sets how often transient errors are retried and the first
// backoff interval. Zero retries disables retrying.
func WithRetry(maxRetries uint64, interval time.Duration) Option {
	return func(s *settings) {
		s.maxRetries = maxRetries
		s.retryInterval = interval
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) { s.log = log }
}

func newSettings(opts []Option) settings {
	s := settings{
		maxRetries:    DefaultMaxRetries,
		retryInterval: DefaultRetryInterval,
		log:           logging.Component("client"),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// New returns a chat provider for model served by the given LLM entry.
func New(ctx context.Context, llm config.LLM, model string, opts ...Option) (hanabi.ChatProvider, error) {
	s := newSettings(opts)
	if model == "" {
		return nil, &hanabi.ConfigurationError{Field: "defaultModel.model", Msg: "model is required"}
	}
	p, err := adapter(ctx, llm, model, s)
	if err != nil {
		return nil, err
	}
	if s.maxRetries == 0 {
		return p, nil
	}
	return &retrying{
		next:     p,
		max:      s.maxRetries,
		interval: s.retryInterval,
		log:      s.log.With().Str("provider", llm.Provider.String()).Str("model", model).Logger(),
	}, nil
}

// adapter builds the SDK-backed provider. An empty model is allowed for
// model listing.
func adapter(ctx context.Context, llm config.LLM, model string, s settings) (provider, error) {
	key := apiKey(llm)

	switch llm.Provider {
	case hanabi.ProviderOpenAI, hanabi.ProviderDeepseek, hanabi.ProviderOllama,
		hanabi.ProviderGroq, hanabi.ProviderXAI, hanabi.ProviderOpenAICompatible:
		base := llm.APIURL
		if base == "" {
			base = endpoints[llm.Provider]
		}
		if base == "" {
			return nil, &hanabi.ConfigurationError{Field: "llms." + llm.Provider.String() + ".apiUrl", Msg: "apiUrl is required"}
		}
		if key == "" && llm.Provider == hanabi.ProviderOllama {
			key = "ollama"
		}
		oo := []openai.ClientOption{openai.WithBaseURL(base), openai.WithAPIKey(key)}
		if s.httpClient != nil {
			oo = append(oo, openai.WithHTTPClient(s.httpClient))
		}
		return openai.New(model, oo...), nil

	case hanabi.ProviderAzure:
		if llm.APIURL == "" {
			return nil, &hanabi.ConfigurationError{Field: "llms.Azure.apiUrl", Msg: "apiUrl is required"}
		}
		version := llm.APIVersion
		if version == "" {
			version = config.DefaultAzureAPIVersion
		}
		oo := []openai.ClientOption{openai.WithAzure(llm.APIURL, version, key, model)}
		if s.httpClient != nil {
			oo = append(oo, openai.WithHTTPClient(s.httpClient))
		}
		return openai.New(model, oo...), nil

	case hanabi.ProviderAnthropic:
		ao := []anthropic.ClientOption{anthropic.WithAPIKey(key), anthropic.WithBaseURL(llm.APIURL)}
		if s.httpClient != nil {
			ao = append(ao, anthropic.WithHTTPClient(s.httpClient))
		}
		return anthropic.New(model, ao...), nil

	case hanabi.ProviderGoogle:
		goo := []google.ClientOption{google.WithAPIKey(key)}
		if llm.APIURL != "" {
			goo = append(goo, google.WithBaseURL(llm.APIURL))
		}
		if s.httpClient != nil {
			goo = append(goo, google.WithHTTPClient(s.httpClient))
		}
		g, err := google.New(ctx, model, goo...)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, &hanabi.ConfigurationError{Field: "llms.provider", Msg: "unknown provider " + llm.Provider.String()}
}

// FromConfig returns a provider for the configured default model.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (hanabi.ChatProvider, error) {
	if cfg == nil || cfg.DefaultModel == nil || cfg.DefaultModel.Model == "" {
		return nil, hanabi.ErrNoDefaultModel
	}
	llm, ok := cfg.FindLLM(cfg.DefaultModel.Provider)
	if !ok {
		return nil, hanabi.ErrNoDefaultModel
	}
	return New(ctx, llm, cfg.DefaultModel.Model, opts...)
}

func apiKey(llm config.LLM) string {
	if llm.APIKey != "" {
		return llm.APIKey
	}
	if name, ok := keyEnv[llm.Provider]; ok {
		return os.Getenv(name)
	}
	return ""
}
