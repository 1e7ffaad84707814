package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/logging"
)

// Client is an MCP client over one Transport. It correlates responses to
// requests by id, answers server pings and owns the transport's lifetime.
type Client struct {
	transport Transport
	info      mcp.Implementation
	log       zerolog.Logger

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]chan callResult
	closed  bool

	server mcp.InitializeResult
}

type callResult struct {
	msg JSONRPCMessage
	err error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientInfo sets the implementation reported during initialize.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) { c.info = mcp.Implementation{Name: name, Version: version} }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient wraps t. Handlers on t are replaced by the client's own.
func NewClient(t Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: t,
		info:      mcp.Implementation{Name: "hanabi", Version: "1.0.0"},
		log:       logging.Component("mcp"),
		pending:   make(map[string]chan callResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	t.SetHandlers(Handlers{
		OnMessage: c.handleMessage,
		OnError:   c.handleError,
		OnClose:   c.handleClose,
	})
	return c
}

// Connect starts the transport and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		return err
	}

	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      c.info,
	}
	var result mcp.InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.mu.Lock()
	c.server = result
	c.mu.Unlock()

	c.log.Debug().
		Str("server", result.ServerInfo.Name).
		Str("version", result.ServerInfo.Version).
		Str("protocol", result.ProtocolVersion).
		Msg("MCP session initialized")

	return c.notify(ctx, "notifications/initialized", nil)
}

// ServerInfo returns what the server reported during initialize.
func (c *Client) ServerInfo() mcp.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server.ServerInfo
}

// ListTools fetches the full tool catalog, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var (
		tools  []mcp.Tool
		cursor string
	)
	for {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		var page struct {
			Tools []struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				InputSchema json.RawMessage `json:"inputSchema"`
			} `json:"tools"`
			NextCursor string `json:"nextCursor"`
		}
		if err := c.call(ctx, "tools/list", params, &page); err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		for _, t := range page.Tools {
			tools = append(tools, mcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema))
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool. A tool that reports failure is returned as a
// result with IsError set, not as an error.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	params := map[string]any{"name": name, "arguments": args}
	var raw json.RawMessage
	if err := c.call(ctx, "tools/call", params, &raw); err != nil {
		return nil, err
	}
	return mcp.ParseCallToolResult(&raw)
}

// Ping checks the server is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, nil)
}

// Close closes the transport and fails every pending call.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	req, err := NewRequest(c.nextID.Add(1), method, params)
	if err != nil {
		return err
	}
	key := req.IDKey()
	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return hanabi.ErrTransportClosed
	}
	c.pending[key] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	if err := c.transport.Send(ctx, req); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if res.msg.Error != nil {
			return res.msg.Error
		}
		if result == nil || len(res.msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.msg.Result, result); err != nil {
			return &hanabi.ProtocolError{Msg: fmt.Sprintf("decode %s result: %v", method, err), Raw: res.msg.Result}
		}
		return nil
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, msg)
}

func (c *Client) handleMessage(msg JSONRPCMessage) {
	switch {
	case msg.IsResponse():
		c.mu.Lock()
		ch, ok := c.pending[msg.IDKey()]
		c.mu.Unlock()
		if !ok {
			c.log.Debug().Str("id", msg.IDKey()).Msg("response for unknown request")
			return
		}
		select {
		case ch <- callResult{msg: msg}:
		default:
		}
	case msg.IsRequest():
		go c.answer(msg)
	case msg.IsNotification():
		c.log.Debug().Str("method", msg.Method).Msg("server notification")
	default:
		if msg.Error != nil {
			c.log.Warn().Err(msg.Error).Msg("server reported an error without request id")
		}
	}
}

// answer replies to server-initiated requests. Only ping is supported.
func (c *Client) answer(req JSONRPCMessage) {
	var resp JSONRPCMessage
	if req.Method == "ping" {
		resp, _ = NewResult(req.ID, struct{}{})
	} else {
		resp = NewErrorResponse(req.ID, mcp.METHOD_NOT_FOUND, "method not found: "+req.Method)
	}
	if err := c.transport.Send(context.Background(), resp); err != nil {
		c.log.Debug().Err(err).Str("method", req.Method).Msg("reply to server request")
	}
}

func (c *Client) handleError(err error) {
	c.log.Warn().Err(err).Msg("transport error")
}

func (c *Client) handleClose() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan callResult)
	c.mu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- callResult{err: hanabi.ErrTransportClosed}:
		default:
		}
	}
}
