package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/tool"
)

// ToMCPTool converts a tool definition to its MCP form.
func ToMCPTool(t hanabi.Tool) mcp.Tool {
	schema := t.Parameters
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return mcp.NewToolWithRawSchema(t.Name, t.Description, schema)
}

// FromMCPTool converts an MCP tool to a tool definition, preferring the raw
// input schema over the structured one.
func FromMCPTool(t mcp.Tool) hanabi.Tool {
	var schema json.RawMessage
	if len(t.RawInputSchema) > 0 {
		schema = t.RawInputSchema
	} else if data, err := json.Marshal(t.InputSchema); err == nil {
		schema = data
	}
	return hanabi.Tool{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schema,
	}
}

// callArguments decodes tool-call arguments for tools/call. Non-JSON input
// is passed through as a string.
func callArguments(raw string) any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var args any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return raw
	}
	return args
}

// ResultText flattens a tool result into the text handed back to the model.
// Text content is joined by newlines; other content and structured content
// are included as JSON.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		switch content := c.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		default:
			if data, err := json.Marshal(content); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	if result.StructuredContent != nil {
		if data, err := json.Marshal(result.StructuredContent); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

// toolError is a tool-reported failure (isError in the MCP result).
type toolError struct{ text string }

func (e *toolError) Error() string { return e.text }

// Descriptors adapts a server's catalog into tool descriptors whose handlers
// forward to client. timeout bounds each call when positive.
func Descriptors(client *Client, source string, tools []mcp.Tool, timeout time.Duration) []tool.Descriptor {
	descs := make([]tool.Descriptor, 0, len(tools))
	for _, t := range tools {
		name := t.Name
		descs = append(descs, tool.Descriptor{
			Tool:   FromMCPTool(t),
			Source: source,
			Handler: func(ctx context.Context, call hanabi.ToolCall) (string, error) {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				result, err := client.CallTool(ctx, name, callArguments(call.Arguments))
				if err != nil {
					return "", err
				}
				text := ResultText(result)
				if result.IsError {
					return "", &toolError{text: text}
				}
				return text, nil
			},
		})
	}
	return descs
}
