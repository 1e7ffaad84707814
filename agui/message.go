package agui

import (
	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/hanabi"
)

// Role constants matching AG-UI protocol.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// ToMessages converts AG-UI messages to hanabi messages.
func ToMessages(msgs []events.Message) []hanabi.Message {
	result := make([]hanabi.Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, ToMessage(msg))
	}
	return result
}

// ToMessage converts a single AG-UI message. A tool message becomes one
// tool-result part; assistant tool calls become tool-call parts after the text.
func ToMessage(msg events.Message) hanabi.Message {
	m := hanabi.Message{ID: msg.ID, Role: toRole(msg.Role)}

	content := ""
	if msg.Content != nil {
		content = *msg.Content
	}

	if m.Role == hanabi.RoleTool && msg.ToolCallID != nil {
		m.Parts = []hanabi.Part{hanabi.ToolResultPart(hanabi.ToolResult{
			ToolCallID: *msg.ToolCallID,
			Content:    content,
		})}
		return m
	}

	if content != "" {
		m.Parts = append(m.Parts, hanabi.TextPart(content))
	}
	for _, tc := range msg.ToolCalls {
		m.Parts = append(m.Parts, hanabi.ToolCallPart(hanabi.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}))
	}
	return m
}

// FromMessages converts hanabi messages to AG-UI messages. AG-UI tool
// messages carry a single result, so a tool message with several results
// expands into several AG-UI messages.
func FromMessages(msgs []hanabi.Message) []events.Message {
	result := make([]events.Message, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, FromMessage(msg)...)
	}
	return result
}

// FromMessage converts a single hanabi message. Media parts are dropped.
func FromMessage(msg hanabi.Message) []events.Message {
	id := msg.ID
	if id == "" {
		id = events.GenerateMessageID()
	}

	if msg.Role == hanabi.RoleTool {
		results := msg.ToolResults()
		out := make([]events.Message, 0, len(results))
		for i, r := range results {
			msgID := id
			if i > 0 {
				msgID = events.GenerateMessageID()
			}
			callID, content := r.ToolCallID, r.Content
			out = append(out, events.Message{
				ID:         msgID,
				Role:       RoleTool,
				Content:    &content,
				ToolCallID: &callID,
			})
		}
		return out
	}

	m := events.Message{ID: id, Role: fromRole(msg.Role)}
	if text := msg.Text(); text != "" {
		m.Content = &text
	}
	for _, tc := range msg.ToolCalls() {
		m.ToolCalls = append(m.ToolCalls, events.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: events.Function{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return []events.Message{m}
}

func toRole(role string) hanabi.Role {
	switch role {
	case RoleAssistant:
		return hanabi.RoleAssistant
	case RoleSystem:
		return hanabi.RoleSystem
	case RoleTool:
		return hanabi.RoleTool
	default:
		return hanabi.RoleUser
	}
}

func fromRole(role hanabi.Role) string {
	switch role {
	case hanabi.RoleAssistant:
		return RoleAssistant
	case hanabi.RoleSystem:
		return RoleSystem
	case hanabi.RoleTool:
		return RoleTool
	default:
		return RoleUser
	}
}
