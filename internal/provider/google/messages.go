package google

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/provider"
)

// convertMessages maps the conversation to Gemini contents. System messages
// become the system instruction.
func convertMessages(messages []hanabi.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system []*genai.Part
	// Function responses are matched by name, which results may not carry.
	names := make(map[string]string)

	for _, msg := range messages {
		if msg.Role == hanabi.RoleSystem {
			if text := msg.Text(); text != "" {
				system = append(system, &genai.Part{Text: text})
			}
			continue
		}

		role := genai.RoleUser
		if msg.Role == hanabi.RoleAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, p := range msg.Parts {
			switch p.Type {
			case hanabi.PartText:
				if p.Text != "" {
					parts = append(parts, &genai.Part{Text: p.Text})
				}
			case hanabi.PartImage, hanabi.PartFile:
				if part := mediaPart(p); part != nil {
					parts = append(parts, part)
				}
			case hanabi.PartToolCall:
				var args map[string]any
				_ = json.Unmarshal(p.Args, &args)
				names[p.ToolCallID] = p.ToolName
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: p.ToolCallID, Name: p.ToolName, Args: args}})
			case hanabi.PartToolResult:
				name := p.ToolName
				if name == "" {
					name = names[p.ToolCallID]
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       p.ToolCallID,
					Name:     name,
					Response: resultPayload(p),
				}})
			}
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	if len(system) == 0 {
		return contents, nil
	}
	return contents, &genai.Content{Parts: system}
}

func mediaPart(p hanabi.Part) *genai.Part {
	mime := p.MimeType
	if p.Data == "" {
		if p.URL == "" {
			return nil
		}
		if mime == "" {
			mime = "image/jpeg"
		}
		return &genai.Part{FileData: &genai.FileData{FileURI: p.URL, MIMEType: mime}}
	}
	if p.Type == hanabi.PartFile && !strings.HasPrefix(mime, "image/") && mime != "application/pdf" {
		return &genai.Part{Text: provider.InlineFile(p)}
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil
	}
	if mime == "" {
		mime = "image/jpeg"
	}
	return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mime}}
}

// resultPayload uses a JSON object result as is and wraps anything else.
func resultPayload(p hanabi.Part) map[string]any {
	key := "output"
	if p.IsError {
		key = "error"
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(p.Result), &obj); err == nil && obj != nil && !p.IsError {
		return obj
	}
	return map[string]any{key: p.Result}
}
