package tool

import (
	"context"
	"encoding/json"

	"github.com/spetersoncode/hanabi"
)

// Handler executes a tool call and returns the serialized result.
// The context carries cancellation from the conversation turn.
type Handler func(ctx context.Context, call hanabi.ToolCall) (string, error)

// TypedHandler is a Handler whose JSON arguments are decoded into T first.
type TypedHandler[T any] func(ctx context.Context, args T) (string, error)

// Typed adapts a TypedHandler to a Handler. Empty arguments decode as {}.
func Typed[T any](fn TypedHandler[T]) Handler {
	return func(ctx context.Context, call hanabi.ToolCall) (string, error) {
		var args T
		raw := call.Arguments
		if raw == "" {
			raw = "{}"
		}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", err
		}
		return fn(ctx, args)
	}
}
