// Package remote calls peer agents over HTTP.
//
// A peer agent exposes two endpoints under its apiUrl:
//
//	POST {apiUrl}/generate  {prompt} or {messages}      -> {answer}
//	POST {apiUrl}/chat      {messages, withAnswerSchema} -> AG-UI event stream
//
// A hanabi serve instance is itself a peer agent at http://host:port/api.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/agui"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/internal/logging"
)

const (
	// DefaultMaxRetries bounds reconnection attempts after connection failures.
	DefaultMaxRetries = 2

	// DefaultRetryInterval is the first backoff interval.
	DefaultRetryInterval = 500 * time.Millisecond

	maxErrorBody = 64 << 10
)

// GenerateRequest is the body of POST {apiUrl}/generate. Exactly one of
// Prompt and Messages is expected.
type GenerateRequest struct {
	Prompt   string           `json:"prompt,omitempty"`
	Messages []hanabi.Message `json:"messages,omitempty"`
}

// ChatRequest is the body of POST {apiUrl}/chat.
type ChatRequest struct {
	Messages         []hanabi.Message `json:"messages"`
	WithAnswerSchema bool             `json:"withAnswerSchema,omitempty"`
}

// Client calls peer agents. Connection-level failures are retried with
// exponential backoff; HTTP error statuses and malformed bodies are not.
type Client struct {
	httpClient    *http.Client
	log           zerolog.Logger
	maxRetries    uint64
	retryInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(client *Client) {
		client.log = l
	}
}

// WithRetry sets the number of retries after a connection failure and the
// first backoff interval. Zero retries disables retrying.
func WithRetry(maxRetries uint64, interval time.Duration) Option {
	return func(client *Client) {
		client.maxRetries = maxRetries
		client.retryInterval = interval
	}
}

// NewClient creates a peer agent client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:    http.DefaultClient,
		log:           logging.Component("remote"),
		maxRetries:    DefaultMaxRetries,
		retryInterval: DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate asks agent for a single textual answer. An agent without an
// apiUrl yields an empty answer. When the response has no string "answer"
// field the whole body is returned as a fenced JSON block.
func (c *Client) Generate(ctx context.Context, agent config.AgentDescriptor, req GenerateRequest) (string, error) {
	if agent.APIURL == "" {
		c.log.Warn().Str("agent", agent.Name).Msg("agent has no apiUrl, answer is empty")
		return "", nil
	}

	resp, endpoint, err := c.post(ctx, agent, "generate", "application/json", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &hanabi.TransportError{Op: "read", URL: endpoint, Err: err}
	}
	return parseAnswer(body)
}

func parseAnswer(body []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		var answer string
		if raw, ok := fields["answer"]; ok && json.Unmarshal(raw, &answer) == nil && answer != "" {
			return answer, nil
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return "", &hanabi.ProtocolError{Msg: "agent response is not JSON", Raw: body}
	}
	return "```json\n" + compact.String() + "\n```", nil
}

// Chat streams a turn from agent. Each decoded event is passed to fn in
// order. It returns the messages the peer produced, taken from the final
// messages snapshot or, failing that, from the streamed text. A RUN_ERROR
// from the peer is returned as an *agui.RemoteRunError.
func (c *Client) Chat(ctx context.Context, agent config.AgentDescriptor, req ChatRequest, fn func(event.Event) error) ([]hanabi.Message, error) {
	if agent.APIURL == "" {
		c.log.Warn().Str("agent", agent.Name).Msg("agent has no apiUrl, answer is empty")
		return nil, nil
	}

	resp, endpoint, err := c.post(ctx, agent, "chat", "text/event-stream", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &hanabi.ProtocolError{Msg: fmt.Sprintf("unexpected content type %q from %s", mediaType, endpoint), Raw: body}
	}

	var messages []hanabi.Message
	var runErr error
	err = agui.ReadSSE(resp.Body, func(e event.Event) error {
		switch e.Type {
		case event.RunEnd:
			messages = e.Messages
		case event.RunError:
			runErr = e.Error
		}
		if fn != nil {
			return fn(e)
		}
		return nil
	})
	if err != nil {
		return messages, fmt.Errorf("agent %q stream: %w", agent.Name, err)
	}
	return messages, runErr
}

// post sends body as JSON to {apiUrl}/{path} with the agent's headers. Only
// failures to get any response are retried.
func (c *Client) post(ctx context.Context, agent config.AgentDescriptor, path, accept string, body any) (*http.Response, string, error) {
	endpoint, err := url.JoinPath(agent.APIURL, path)
	if err != nil {
		return nil, "", &hanabi.ConfigurationError{Field: "multiAgents.agents." + agent.Name + ".apiUrl", Msg: err.Error()}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, endpoint, fmt.Errorf("failed to marshal request: %w", err)
	}

	op := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		for k, v := range agent.Headers {
			req.Header.Set(k, v)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		return resp, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Str("agent", agent.Name).Dur("retryIn", wait).Msg("agent unreachable, retrying")
	}

	resp, err := backoff.RetryNotifyWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx), notify)
	if err != nil {
		return nil, endpoint, &hanabi.TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, endpoint, &hanabi.TransportError{
			Op:         http.MethodPost,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(data)),
		}
	}
	return resp, endpoint, nil
}
