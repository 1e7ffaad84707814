package tool

import (
	"encoding/json"

	"github.com/spetersoncode/hanabi"
)

// FormatAnswerName is the synthetic tool the model must call to deliver a
// structured final answer.
const FormatAnswerName = "format-answer"

// FormatAnswer returns the format-answer tool for the given answer schema.
// It has no handler: a call to it ends the turn and its arguments are the answer.
func FormatAnswer(schema json.RawMessage) Descriptor {
	return Descriptor{
		Tool:   toolDef(FormatAnswerName, "A tool for providing the final answer.", schema),
		Source: Builtin,
	}
}

// IsFormatAnswer reports whether call targets the format-answer tool.
func IsFormatAnswer(call hanabi.ToolCall) bool {
	return call.Name == FormatAnswerName
}

func toolDef(name, description string, schema json.RawMessage) hanabi.Tool {
	return hanabi.Tool{Name: name, Description: description, Parameters: schema}
}
