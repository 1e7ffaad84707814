// Package client builds hanabi.ChatProvider values from configured LLM
// entries.
//
// OpenAI, Deepseek, Groq, xAI, Ollama and OpenAI-compatible gateways share
// the chat completions adapter, pointed at the entry's apiUrl or the
// provider's official endpoint. Azure targets a deployment named after the
// model. Anthropic and Google use their own SDKs.
//
//	cfg, _ := config.Load()
//	p, err := client.FromConfig(ctx, cfg)
//	if errors.Is(err, hanabi.ErrNoDefaultModel) {
//	    // ask the user to pick a model
//	}
//	resp, err := p.Chat(ctx, []hanabi.Message{hanabi.NewUserMessage("Hello!")})
//
// Transient errors (rate limits, overloaded or failing servers) are retried
// with exponential backoff, honoring Retry-After. A stream is retried only
// when it fails before producing any output.
package client
