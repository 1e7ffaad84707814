// Package openai adapts the OpenAI chat completions API, and every service
// that speaks it (Azure, Deepseek, Groq, xAI, Ollama, OpenAI-compatible
// gateways), to hanabi.ChatProvider.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/spetersoncode/hanabi"
)

// Client implements hanabi.ChatProvider over the chat completions API.
type Client struct {
	client openai.Client
	model  string
}

type settings struct {
	requestOpts []option.RequestOption
}

// ClientOption configures a Client.
type ClientOption func(*settings)

// WithAPIKey sets the bearer API key.
func WithAPIKey(key string) ClientOption {
	return func(s *settings) {
		if key != "" {
			s.requestOpts = append(s.requestOpts, option.WithAPIKey(key))
		}
	}
}

// WithBaseURL points the client at another OpenAI-compatible endpoint.
func WithBaseURL(url string) ClientOption {
	return func(s *settings) {
		if url != "" {
			s.requestOpts = append(s.requestOpts, option.WithBaseURL(strings.TrimSuffix(url, "/")+"/"))
		}
	}
}

// WithAzure targets an Azure OpenAI deployment named after the model.
// endpoint is the resource URL, e.g. https://name.openai.azure.com. An empty
// deployment addresses the resource itself, which is where models are listed.
func WithAzure(endpoint, apiVersion, key, deployment string) ClientOption {
	return func(s *settings) {
		base := strings.TrimSuffix(endpoint, "/")
		base = strings.TrimSuffix(base, "/openai") + "/openai/"
		if deployment != "" {
			base += "deployments/" + deployment + "/"
		}
		s.requestOpts = append(s.requestOpts,
			option.WithBaseURL(base),
			option.WithQuery("api-version", apiVersion),
			option.WithHeader("api-key", key),
		)
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *settings) {
		s.requestOpts = append(s.requestOpts, option.WithHTTPClient(c))
	}
}

// New creates a client for model.
func New(model string, opts ...ClientOption) *Client {
	// Retries are owned by the client package.
	s := settings{requestOpts: []option.RequestOption{option.WithMaxRetries(0)}}
	for _, opt := range opts {
		opt(&s)
	}
	return &Client{
		client: openai.NewClient(s.requestOpts...),
		model:  model,
	}
}

func (c *Client) params(messages []hanabi.Message, opts []hanabi.Option) openai.ChatCompletionNewParams {
	options := hanabi.ApplyOptions(opts...)
	model := c.model
	if options.Model != "" {
		model = options.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(messages),
	}
	if options.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(options.MaxTokens))
	}
	if options.Temperature != nil {
		params.Temperature = openai.Float(*options.Temperature)
	}
	if len(options.Tools) > 0 {
		params.Tools = convertTools(options.Tools)
		if options.ToolChoice != "" {
			params.ToolChoice = convertToolChoice(options.ToolChoice)
		}
	}
	return params
}

// Chat sends a conversation and returns a complete response.
func (c *Client) Chat(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (*hanabi.Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(messages, opts))
	if err != nil {
		return nil, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	choice := resp.Choices[0]
	return &hanabi.Response{
		Content:      choice.Message.Content,
		Reasoning:    reasoning(choice.Message.JSON.ExtraFields),
		FinishReason: string(choice.FinishReason),
		Usage:        hanabi.NewUsage(int(resp.Usage.PromptTokens), int(resp.Usage.CompletionTokens)),
		ToolCalls:    extractToolCalls(choice.Message.ToolCalls),
	}, nil
}

// ChatStream sends a conversation and streams text and reasoning deltas,
// followed by one Done event with the assembled response.
func (c *Client) ChatStream(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (<-chan hanabi.StreamEvent, error) {
	params := c.params(messages, opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan hanabi.StreamEvent)

	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(ev hanabi.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var acc openai.ChatCompletionAccumulator
		var thinking strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if r := reasoning(delta.JSON.ExtraFields); r != "" {
				thinking.WriteString(r)
				if !send(hanabi.StreamEvent{Reasoning: r}) {
					return
				}
			}
			if delta.Content != "" {
				if !send(hanabi.StreamEvent{Delta: delta.Content}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(hanabi.StreamEvent{Err: wrapError(err)})
			return
		}
		if len(acc.Choices) == 0 {
			send(hanabi.StreamEvent{Err: errors.New("openai: stream has no choices")})
			return
		}

		choice := acc.Choices[0]
		send(hanabi.StreamEvent{
			Done: true,
			Response: &hanabi.Response{
				Content:      choice.Message.Content,
				Reasoning:    thinking.String(),
				FinishReason: string(choice.FinishReason),
				Usage:        hanabi.NewUsage(int(acc.Usage.PromptTokens), int(acc.Usage.CompletionTokens)),
				ToolCalls:    extractToolCalls(choice.Message.ToolCalls),
			},
		})
	}()

	return ch, nil
}

// ListModels returns the model ids served by the endpoint.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	iter := c.client.Models.ListAutoPaging(ctx)
	var ids []string
	for iter.Next() {
		ids = append(ids, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapError(err)
	}
	return ids, nil
}

// reasoning reads the non-standard reasoning field that Deepseek and Ollama
// add to messages and deltas.
func reasoning[F interface{ Raw() string }](fields map[string]F) string {
	for _, key := range []string{"reasoning_content", "reasoning"} {
		f, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal([]byte(f.Raw()), &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

var _ hanabi.ChatProvider = (*Client)(nil)
