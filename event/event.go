// Package event is the streaming event model shared by the conversation
// loop, the multi-agent dispatcher and the HTTP server. Types map one to one
// onto AG-UI protocol events.
package event

import (
	"context"
	"time"

	"github.com/spetersoncode/hanabi"
)

// Type identifies the kind of event.
type Type string

// Run lifecycle events
const (
	// RunStart fires when a turn begins.
	RunStart Type = "run_start"

	// RunEnd fires when a turn completes, including when maxSteps ran out.
	RunEnd Type = "run_end"

	// RunError fires when a turn fails.
	RunError Type = "run_error"
)

// Step lifecycle events
const (
	// StepStart fires before each model call of the loop, or each agent of a workflow.
	StepStart Type = "step_start"

	// StepEnd fires when a step completes.
	StepEnd Type = "step_end"
)

// Message lifecycle events
const (
	MessageStart Type = "message_start"

	// MessageDelta carries one chunk of assistant text.
	MessageDelta Type = "message_delta"

	// ReasoningDelta carries one chunk of model reasoning.
	ReasoningDelta Type = "reasoning_delta"

	MessageEnd Type = "message_end"
)

// Tool call lifecycle events
const (
	// ToolCallStart fires when the model has requested a tool (contains tool name).
	ToolCallStart Type = "tool_call_start"

	ToolCallArgs Type = "tool_call_args"

	ToolCallEnd Type = "tool_call_end"

	// ToolCallResult fires with the tool execution result.
	ToolCallResult Type = "tool_call_result"
)

// Dispatcher events
const (
	// Transition fires on every dispatcher state change; Message holds the new state.
	Transition Type = "transition"

	// RouteSelected fires when classification picked a label.
	RouteSelected Type = "route_selected"
)

// Event is one observable occurrence during a streamed turn.
type Event struct {
	Type Type

	// MessageID correlates Start/Delta/End events of one message.
	MessageID string

	// Delta is the text of MessageDelta and ReasoningDelta events.
	Delta string

	// Response is set on MessageEnd.
	Response *hanabi.Response

	ToolCall   *hanabi.ToolCall
	ToolResult *hanabi.ToolResult

	// Step is the 1-indexed loop iteration.
	Step int

	// StepName names the agent of a workflow step or parallel branch.
	StepName string

	// RouteName is the chosen classification label.
	RouteName string

	Error error

	// Message is free-form context: a dispatcher state, a termination reason.
	Message string

	// Messages holds the messages produced by the turn, on RunEnd.
	Messages []hanabi.Message

	// Usage is the accumulated token usage, on RunEnd.
	Usage hanabi.Usage

	Timestamp time.Time
}

// Emit sends e on ch, blocking until it is received or ctx ends. Deltas
// must reach the consumer in order, so events are never dropped while the
// consumer is alive. It reports whether the event was delivered.
func Emit(ctx context.Context, ch chan<- Event, e Event) bool {
	e.Timestamp = time.Now()
	select {
	case ch <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// NewChannel creates a buffered event channel with standard capacity.
func NewChannel() chan Event {
	return make(chan Event, 100)
}
