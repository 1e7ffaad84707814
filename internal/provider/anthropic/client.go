// Package anthropic adapts the Anthropic Messages API to hanabi.ChatProvider.
package anthropic

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/provider"
)

// Client implements hanabi.ChatProvider over the Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

type settings struct {
	requestOpts []option.RequestOption
}

// ClientOption configures a Client.
type ClientOption func(*settings)

// WithAPIKey sets the API key.
func WithAPIKey(key string) ClientOption {
	return func(s *settings) {
		if key != "" {
			s.requestOpts = append(s.requestOpts, option.WithAPIKey(key))
		}
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) ClientOption {
	return func(s *settings) {
		if url != "" {
			s.requestOpts = append(s.requestOpts, option.WithBaseURL(strings.TrimSuffix(url, "/")+"/"))
		}
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
		client: anthropic.NewClient(s.requestOpts...),
		model:  model,
	}
}

func (c *Client) params(messages []hanabi.Message, opts []hanabi.Option) anthropic.MessageNewParams {
	options := hanabi.ApplyOptions(opts...)
	model := c.model
	if options.Model != "" {
		model = options.Model
	}
	maxTokens := int64(provider.DefaultMaxTokens)
	if options.MaxTokens > 0 {
		maxTokens = int64(options.MaxTokens)
	}

	msgs, system := convertMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if options.Temperature != nil {
		params.Temperature = anthropic.Float(*options.Temperature)
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
	resp, err := c.client.Messages.New(ctx, c.params(messages, opts))
	if err != nil {
		return nil, wrapError(err)
	}
	return toResponse(resp), nil
}

// ChatStream sends a conversation and streams text and thinking deltas,
// followed by one Done event with the assembled response.
func (c *Client) ChatStream(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (<-chan hanabi.StreamEvent, error) {
	stream := c.client.Messages.NewStreaming(ctx, c.params(messages, opts))
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

		var acc anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				send(hanabi.StreamEvent{Err: err})
				return
			}
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if !send(hanabi.StreamEvent{Delta: delta.AsTextDelta().Text}) {
					return
				}
			case "thinking_delta":
				if !send(hanabi.StreamEvent{Reasoning: delta.AsThinkingDelta().Thinking}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(hanabi.StreamEvent{Err: wrapError(err)})
			return
		}
		send(hanabi.StreamEvent{Done: true, Response: toResponse(&acc)})
	}()

	return ch, nil
}

// ListModels returns the model ids available to the API key.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	iter := c.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	var ids []string
	for iter.Next() {
		ids = append(ids, iter.Current().ID)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapError(err)
	}
	return ids, nil
}

func toResponse(msg *anthropic.Message) *hanabi.Response {
	var content, thinking strings.Builder
	var toolCalls []hanabi.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		case "tool_use":
			toolCalls = append(toolCalls, hanabi.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return &hanabi.Response{
		Content:      content.String(),
		Reasoning:    thinking.String(),
		FinishReason: string(msg.StopReason),
		Usage:        hanabi.NewUsage(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)),
		ToolCalls:    toolCalls,
	}
}

var _ hanabi.ChatProvider = (*Client)(nil)
