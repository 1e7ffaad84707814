package google

import (
	"encoding/json"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/spetersoncode/hanabi"
)

func convertTools(tools []hanabi.Tool) []*genai.Tool {
	funcs := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		var schema any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}
		funcs[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: funcs}}
}

func convertToolChoice(choice hanabi.ToolChoice) *genai.ToolConfig {
	mode := genai.FunctionCallingConfigModeAuto
	switch choice {
	case hanabi.ToolChoiceNone:
		mode = genai.FunctionCallingConfigModeNone
	case hanabi.ToolChoiceRequired:
		mode = genai.FunctionCallingConfigModeAny
	}
	return &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
}

// toolCall converts a function call. Gemini may omit call ids, so one is
// generated when missing.
func toolCall(fc *genai.FunctionCall) hanabi.ToolCall {
	id := fc.ID
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = []byte("{}")
	}
	return hanabi.ToolCall{ID: id, Name: fc.Name, Arguments: string(args)}
}
