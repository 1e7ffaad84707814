package openai

import (
	"github.com/openai/openai-go"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/provider"
)

func convertMessages(messages []hanabi.Message) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case hanabi.RoleSystem:
			if text := msg.Text(); text != "" {
				result = append(result, openai.SystemMessage(text))
			}
		case hanabi.RoleUser:
			if parts := convertUserParts(msg.Parts); len(parts) > 0 {
				result = append(result, openai.UserMessage(parts))
			}
		case hanabi.RoleAssistant:
			if m, ok := convertAssistant(msg); ok {
				result = append(result, m)
			}
		case hanabi.RoleTool:
			// One tool message per result.
			for _, tr := range msg.ToolResults() {
				result = append(result, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		}
	}
	return result
}

// convertUserParts maps text and images natively. Files are inlined as
// fenced text because not every compatible endpoint accepts documents.
func convertUserParts(parts []hanabi.Part) []openai.ChatCompletionContentPartUnionParam {
	var result []openai.ChatCompletionContentPartUnionParam
	for _, p := range parts {
		switch p.Type {
		case hanabi.PartText:
			if p.Text != "" {
				result = append(result, openai.TextContentPart(p.Text))
			}
		case hanabi.PartImage:
			if url := provider.ImageURL(p); url != "" {
				result = append(result, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
		case hanabi.PartFile:
			result = append(result, openai.TextContentPart(provider.InlineFile(p)))
		}
	}
	return result
}

func convertAssistant(msg hanabi.Message) (openai.ChatCompletionMessageParamUnion, bool) {
	text := msg.Text()
	calls := msg.ToolCalls()
	if len(calls) == 0 {
		if text == "" {
			return openai.ChatCompletionMessageParamUnion{}, false
		}
		return openai.AssistantMessage(text), true
	}

	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, tc := range calls {
		toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		}
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text),
		}
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}, true
}
