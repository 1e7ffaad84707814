// Package google adapts the Gemini API to hanabi.ChatProvider.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"google.golang.org/genai"

	"github.com/spetersoncode/hanabi"
)

// Client implements hanabi.ChatProvider over the Gemini API.
type Client struct {
	client *genai.Client
	model  string
}

// ClientOption configures a Client.
type ClientOption func(*genai.ClientConfig)

// WithAPIKey sets the API key.
func WithAPIKey(key string) ClientOption {
	return func(c *genai.ClientConfig) {
		c.APIKey = key
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *genai.ClientConfig) {
		c.HTTPClient = hc
	}
}

// New creates a client for model.
func New(ctx context.Context, model string, opts ...ClientOption) (*Client, error) {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) request(messages []hanabi.Message, opts []hanabi.Option) (string, []*genai.Content, *genai.GenerateContentConfig) {
	options := hanabi.ApplyOptions(opts...)
	model := c.model
	if options.Model != "" {
		model = options.Model
	}

	contents, system := convertMessages(messages)
	config := &genai.GenerateContentConfig{SystemInstruction: system}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(options.MaxTokens)
	}
	if options.Temperature != nil {
		temp := float32(*options.Temperature)
		config.Temperature = &temp
	}
	if len(options.Tools) > 0 {
		config.Tools = convertTools(options.Tools)
		if options.ToolChoice != "" {
			config.ToolConfig = convertToolChoice(options.ToolChoice)
		}
	}
	return model, contents, config
}

// Chat sends a conversation and returns a complete response.
func (c *Client) Chat(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (*hanabi.Response, error) {
	model, contents, config := c.request(messages, opts)
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, wrapError(err)
	}
	if err := blocked(resp); err != nil {
		return nil, err
	}

	var acc accumulator
	acc.add(resp)
	return acc.response(), nil
}

// ChatStream sends a conversation and streams text and thought deltas,
// followed by one Done event with the assembled response.
func (c *Client) ChatStream(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (<-chan hanabi.StreamEvent, error) {
	model, contents, config := c.request(messages, opts)
	ch := make(chan hanabi.StreamEvent)

	go func() {
		defer close(ch)

		send := func(ev hanabi.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var acc accumulator
		chunks := 0
		for resp, err := range c.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				send(hanabi.StreamEvent{Err: wrapError(err)})
				return
			}
			if err := blocked(resp); err != nil {
				send(hanabi.StreamEvent{Err: err})
				return
			}
			chunks++
			text, thought := acc.add(resp)
			if thought != "" && !send(hanabi.StreamEvent{Reasoning: thought}) {
				return
			}
			if text != "" && !send(hanabi.StreamEvent{Delta: text}) {
				return
			}
		}
		if chunks == 0 {
			send(hanabi.StreamEvent{Err: errors.New("google: stream returned no data")})
			return
		}
		send(hanabi.StreamEvent{Done: true, Response: acc.response()})
	}()

	return ch, nil
}

// accumulator assembles a response from one or more chunks.
type accumulator struct {
	content      strings.Builder
	reasoning    strings.Builder
	toolCalls    []hanabi.ToolCall
	finishReason string
	usage        hanabi.Usage
}

// add folds resp in and returns the text and thought it carried.
func (a *accumulator) add(resp *genai.GenerateContentResponse) (text, thought string) {
	if resp.UsageMetadata != nil {
		a.usage = hanabi.NewUsage(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	}
	if len(resp.Candidates) == 0 {
		return "", ""
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		a.finishReason = string(cand.FinishReason)
	}
	if cand.Content == nil {
		return "", ""
	}

	var textOut, thoughtOut strings.Builder
	for _, part := range cand.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			a.toolCalls = append(a.toolCalls, toolCall(part.FunctionCall))
		case part.Thought:
			thoughtOut.WriteString(part.Text)
		default:
			textOut.WriteString(part.Text)
		}
	}
	a.content.WriteString(textOut.String())
	a.reasoning.WriteString(thoughtOut.String())
	return textOut.String(), thoughtOut.String()
}

func (a *accumulator) response() *hanabi.Response {
	return &hanabi.Response{
		Content:      a.content.String(),
		Reasoning:    a.reasoning.String(),
		FinishReason: a.finishReason,
		Usage:        a.usage,
		ToolCalls:    a.toolCalls,
	}
}

// ListModels returns the ids of the models that can generate content.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var ids []string
	for m, err := range c.client.Models.All(ctx) {
		if err != nil {
			return nil, wrapError(err)
		}
		if len(m.SupportedActions) > 0 && !slices.Contains(m.SupportedActions, "generateContent") {
			continue
		}
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}

var _ hanabi.ChatProvider = (*Client)(nil)
