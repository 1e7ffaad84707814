package anthropic

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/provider"
)

// convertMessages splits system messages out and maps the rest. Empty text
// is dropped because the API rejects empty text blocks.
func convertMessages(messages []hanabi.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var result []anthropic.MessageParam
	var system []anthropic.TextBlockParam

	for _, msg := range messages {
		switch msg.Role {
		case hanabi.RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
		case hanabi.RoleUser:
			if blocks := convertParts(msg.Parts); len(blocks) > 0 {
				result = append(result, anthropic.NewUserMessage(blocks...))
			}
		case hanabi.RoleAssistant:
			if blocks := convertParts(msg.Parts); len(blocks) > 0 {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			}
		case hanabi.RoleTool:
			// Tool results travel in a user turn.
			if blocks := convertParts(msg.Parts); len(blocks) > 0 {
				result = append(result, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	return result, system
}

func convertParts(parts []hanabi.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		switch p.Type {
		case hanabi.PartText:
			if p.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			}
		case hanabi.PartImage:
			switch {
			case p.Data != "":
				mime := p.MimeType
				if mime == "" {
					mime = "image/jpeg"
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mime, p.Data))
			case p.URL != "":
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: p.URL}))
			}
		case hanabi.PartFile:
			if p.MimeType == "application/pdf" {
				blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: p.Data}))
			} else {
				blocks = append(blocks, anthropic.NewTextBlock(provider.InlineFile(p)))
			}
		case hanabi.PartToolCall:
			var input any = map[string]any{}
			_ = json.Unmarshal(p.Args, &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(p.ToolCallID, input, p.ToolName))
		case hanabi.PartToolResult:
			blocks = append(blocks, anthropic.NewToolResultBlock(p.ToolCallID, p.Result, p.IsError))
		}
	}
	return blocks
}
