package hanabi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role represents the role of a message sender in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType discriminates the variants of Part.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartFile       PartType = "file"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one typed element of a message's content.
//
// Type is the single discriminant. Only the fields that belong to the variant
// are populated:
//
//   - PartText: Text
//   - PartImage: Data (base64) or URL, MimeType
//   - PartFile: Data (base64), MimeType, Filename
//   - PartToolCall: ToolCallID, ToolName, Args
//   - PartToolResult: ToolCallID, ToolName, Result, IsError
type Part struct {
	Type PartType `json:"type"`

	Text string `json:"text,omitempty"`

	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// TextPart creates a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ImagePart creates an image part from base64 data.
func ImagePart(base64Data, mimeType string) Part {
	return Part{Type: PartImage, Data: base64Data, MimeType: mimeType}
}

// ImageURLPart creates an image part that references a URL.
func ImageURLPart(url string) Part {
	return Part{Type: PartImage, URL: url}
}

// FilePart creates a file part from base64 data.
func FilePart(filename, base64Data, mimeType string) Part {
	return Part{Type: PartFile, Filename: filename, Data: base64Data, MimeType: mimeType}
}

// ToolCallPart creates a tool-call part from a ToolCall.
func ToolCallPart(call ToolCall) Part {
	args := json.RawMessage(call.Arguments)
	if len(bytes.TrimSpace(args)) == 0 || !json.Valid(args) {
		args = json.RawMessage("{}")
	}
	return Part{Type: PartToolCall, ToolCallID: call.ID, ToolName: call.Name, Args: args}
}

// ToolResultPart creates a tool-result part from a ToolResult.
func ToolResultPart(result ToolResult) Part {
	return Part{
		Type:       PartToolResult,
		ToolCallID: result.ToolCallID,
		ToolName:   result.ToolName,
		Result:     result.Content,
		IsError:    result.IsError,
	}
}

// ToolCall returns the ToolCall carried by a tool-call part.
func (p Part) ToolCall() ToolCall {
	return ToolCall{ID: p.ToolCallID, Name: p.ToolName, Arguments: string(p.Args)}
}

// ToolResult returns the ToolResult carried by a tool-result part.
func (p Part) ToolResult() ToolResult {
	return ToolResult{ToolCallID: p.ToolCallID, ToolName: p.ToolName, Content: p.Result, IsError: p.IsError}
}

// Validate checks that the fields required by the part's variant are present.
func (p Part) Validate() error {
	switch p.Type {
	case PartText:
		return nil
	case PartImage:
		if p.Data == "" && p.URL == "" {
			return fmt.Errorf("image part needs data or url")
		}
	case PartFile:
		if p.Data == "" {
			return fmt.Errorf("file part needs data")
		}
	case PartToolCall:
		if p.ToolCallID == "" || p.ToolName == "" {
			return fmt.Errorf("tool-call part needs toolCallId and toolName")
		}
	case PartToolResult:
		if p.ToolCallID == "" {
			return fmt.Errorf("tool-result part needs toolCallId")
		}
	default:
		return fmt.Errorf("unknown part type %q", p.Type)
	}
	return nil
}

// Message represents a single message in a conversation.
//
// On the wire the content is encoded under "content" as an array of parts.
// A plain string is also accepted when decoding and becomes one text part.
type Message struct {
	ID    string `json:"id,omitempty"`
	Role  Role   `json:"role"`
	Parts []Part `json:"content"`
}

// GenerateMessageID creates a unique message identifier.
func GenerateMessageID() string {
	return "msg-" + uuid.New().String()
}

// NewMessage creates a message with the given role and parts.
func NewMessage(role Role, parts ...Part) Message {
	return Message{Role: role, Parts: parts}
}

// NewUserMessage creates a user message with a leading text part followed by
// any extra parts (images, files).
func NewUserMessage(text string, extra ...Part) Message {
	return Message{Role: RoleUser, Parts: append([]Part{TextPart(text)}, extra...)}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart(text)}}
}

// NewAssistantMessage creates an assistant text message.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

// NewToolResultMessage creates a message containing tool results.
func NewToolResultMessage(results ...ToolResult) Message {
	parts := make([]Part, len(results))
	for i, r := range results {
		parts[i] = ToolResultPart(r)
	}
	return Message{Role: RoleTool, Parts: parts}
}

// Text returns the concatenation of all text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool calls carried by the message, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			calls = append(calls, p.ToolCall())
		}
	}
	return calls
}

// ToolResults returns the tool results carried by the message, in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if p.Type == PartToolResult {
			results = append(results, p.ToolResult())
		}
	}
	return results
}

// HasMedia returns true if the message carries image or file parts.
func (m Message) HasMedia() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage || p.Type == PartFile {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts content either as an array of parts or as a string.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID      string          `json:"id"`
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.ID = raw.ID
	m.Role = raw.Role
	m.Parts = nil

	content := bytes.TrimSpace(raw.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil
	}
	if content[0] == '"' {
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return err
		}
		m.Parts = []Part{TextPart(text)}
		return nil
	}
	return json.Unmarshal(content, &m.Parts)
}

// UnansweredToolCalls returns the ids of tool-call parts that have no
// matching tool-result part later in the history.
func UnansweredToolCalls(messages []Message) []string {
	answered := make(map[string]bool)
	var pending []string
	for i := len(messages) - 1; i >= 0; i-- {
		for _, p := range messages[i].Parts {
			switch p.Type {
			case PartToolResult:
				answered[p.ToolCallID] = true
			case PartToolCall:
				if !answered[p.ToolCallID] {
					pending = append(pending, p.ToolCallID)
				}
			}
		}
	}
	return pending
}

// LastUserMessage returns the last user message and its index, or -1.
func LastUserMessage(messages []Message) (Message, int) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i], i
		}
	}
	return Message{}, -1
}

// Response represents a complete response from a chat provider.
type Response struct {
	Content      string `json:"content,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        Usage  `json:"usage"`
	// ToolCalls contains any tool invocation requests from the model.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
}

// Message converts the response into an assistant message: text first,
// then one tool-call part per call.
func (r *Response) Message() Message {
	msg := Message{Role: RoleAssistant}
	if r.Content != "" {
		msg.Parts = append(msg.Parts, TextPart(r.Content))
	}
	for _, tc := range r.ToolCalls {
		msg.Parts = append(msg.Parts, ToolCallPart(tc))
	}
	return msg
}

// Usage contains token accounting for one or more requests.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// NewUsage builds a Usage with the total filled in.
func NewUsage(prompt, completion int) Usage {
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// StreamEvent represents a single event in a streaming response.
type StreamEvent struct {
	// Delta contains incremental answer text.
	Delta string
	// Reasoning contains incremental reasoning text, for models that expose it.
	Reasoning string
	// Done indicates if this is the final event in the stream.
	Done bool
	// Response contains the final response data when Done is true.
	Response *Response
	// Err contains any error that occurred during streaming.
	Err error
}
