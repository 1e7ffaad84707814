package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/tool"
)

// ServerOption configures NewServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	name    string
	version string
}

// WithName sets the server name reported to MCP clients.
func WithName(name string) ServerOption {
	return func(c *serverConfig) { c.name = name }
}

// WithVersion sets the server version reported to MCP clients.
func WithVersion(version string) ServerOption {
	return func(c *serverConfig) { c.version = version }
}

// NewServer exposes the tools of set as an MCP server. Tools without a
// handler, such as format-answer, are not exposed.
func NewServer(set *tool.Set, opts ...ServerOption) *server.MCPServer {
	cfg := &serverConfig{name: "hanabi", version: "1.0.0"}
	for _, opt := range opts {
		opt(cfg)
	}

	s := server.NewMCPServer(cfg.name, cfg.version, server.WithToolCapabilities(true))
	for _, name := range set.Names() {
		d, _ := set.Get(name)
		if d.Handler == nil {
			continue
		}
		s.AddTool(ToMCPTool(d.Tool), serverHandler(set, name))
	}
	return s
}

func serverHandler(set *tool.Set, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := "{}"
		if req.Params.Arguments != nil {
			data, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			args = string(data)
		}

		res := set.Execute(ctx, hanabi.ToolCall{ID: hanabi.GenerateMessageID(), Name: name, Arguments: args})
		if res.IsError {
			return mcp.NewToolResultError(res.Content), nil
		}
		return mcp.NewToolResultText(res.Content), nil
	}
}

// ServeStdio serves set over stdin/stdout until stdin closes.
func ServeStdio(set *tool.Set, opts ...ServerOption) error {
	log := logging.Component("mcp-server")
	log.Info().Strs("tools", set.Names()).Msg("serving tools over stdio")
	return server.ServeStdio(NewServer(set, opts...))
}
