package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/tool"
)

// TerminationReason indicates why a turn stopped.
type TerminationReason string

const (
	// TerminationComplete indicates the model answered with plain text.
	TerminationComplete TerminationReason = "complete"

	// TerminationAnswer indicates the model called format-answer.
	TerminationAnswer TerminationReason = "answer"

	// TerminationMaxSteps indicates the step limit was reached.
	TerminationMaxSteps TerminationReason = "max_steps"

	// TerminationError indicates the model or the stream failed.
	TerminationError TerminationReason = "error"
)

// Result is the outcome of one turn.
type Result struct {
	// Messages are the messages produced by the turn, in order. The input
	// history is not included.
	Messages []hanabi.Message

	// Response is the last model response.
	Response *hanabi.Response

	// Steps is the number of model calls made.
	Steps int

	Termination TerminationReason

	// Usage aggregates token usage across all steps.
	Usage hanabi.Usage

	Error error
}

// Answer returns the text of the last assistant message, or "".
func (r *Result) Answer() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == hanabi.RoleAssistant {
			if text := r.Messages[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

// Agent runs the conversation loop: model call, tool execution, repeat.
type Agent struct {
	model hanabi.ChatProvider
	tools *tool.Set
}

// New creates an Agent over a model and a read-only tool set. tools may be nil.
func New(model hanabi.ChatProvider, tools *tool.Set) *Agent {
	return &Agent{model: model, tools: tools}
}

// Tools returns the agent's tool set.
func (a *Agent) Tools() *tool.Set {
	return a.tools
}

// Run executes a turn and blocks until it completes. Deltas and tool
// notifications are forwarded to the configured Sink in arrival order.
func (a *Agent) Run(ctx context.Context, messages []hanabi.Message, opts ...Option) (*Result, error) {
	options := ApplyOptions(opts...)
	sink := options.Sink

	result := &Result{}
	for ev := range a.RunStream(ctx, messages, opts...) {
		if ev.Step > result.Steps {
			result.Steps = ev.Step
		}
		switch ev.Type {
		case event.MessageDelta:
			if sink != nil {
				sink.Text(ev.Delta)
			}
		case event.ReasoningDelta:
			if sink != nil {
				sink.Reasoning(ev.Delta)
			}
		case event.ToolCallStart:
			if sink != nil && ev.ToolCall != nil {
				sink.ToolCall(*ev.ToolCall)
			}
		case event.ToolCallResult:
			if sink != nil && ev.ToolResult != nil {
				sink.ToolResult(*ev.ToolResult)
			}
		case event.StepEnd:
			result.Response = ev.Response
		case event.RunEnd:
			result.Messages = ev.Messages
			result.Usage = ev.Usage
			result.Termination = TerminationReason(ev.Message)
		case event.RunError:
			result.Messages = ev.Messages
			result.Usage = ev.Usage
			result.Error = ev.Error
			result.Termination = TerminationError
		}
	}
	if result.Termination == "" && result.Error == nil {
		// The stream stopped without a terminal event: the caller went away.
		result.Error = ctx.Err()
		result.Termination = TerminationError
	}
	return result, result.Error
}

// RunStream executes a turn and returns a channel of events. The channel is
// closed after RunEnd or RunError. Callers should drain it.
func (a *Agent) RunStream(ctx context.Context, messages []hanabi.Message, opts ...Option) <-chan event.Event {
	ch := event.NewChannel()
	go a.runLoop(ctx, messages, ch, ApplyOptions(opts...))
	return ch
}

// turn holds the state of one running loop.
type turn struct {
	ctx      context.Context
	ch       chan<- event.Event
	options  *Options
	tools    *tool.Set
	history  []hanabi.Message
	produced []hanabi.Message
	usage    hanabi.Usage
}

func (t *turn) emit(e event.Event) bool {
	return event.Emit(t.ctx, t.ch, e)
}

func (t *turn) append(m hanabi.Message) {
	if m.ID == "" {
		m.ID = hanabi.GenerateMessageID()
	}
	t.history = append(t.history, m)
	t.produced = append(t.produced, m)
}

func (t *turn) end(step int, resp *hanabi.Response, reason TerminationReason) {
	t.emit(event.Event{
		Type:     event.RunEnd,
		Step:     step,
		Response: resp,
		Message:  string(reason),
		Messages: t.produced,
		Usage:    t.usage,
	})
}

func (t *turn) fail(step int, err error) {
	t.options.Logger.Debug().Err(err).Int("step", step).Msg("turn failed")
	t.emit(event.Event{
		Type:     event.RunError,
		Step:     step,
		Error:    err,
		Messages: t.produced,
		Usage:    t.usage,
	})
}

func (a *Agent) runLoop(ctx context.Context, messages []hanabi.Message, ch chan<- event.Event, options *Options) {
	defer close(ch)

	t := &turn{
		ctx:     ctx,
		ch:      ch,
		options: options,
		tools:   a.tools,
		history: append([]hanabi.Message(nil), messages...),
	}

	chatOpts := []hanabi.Option{}
	if options.AnswerSchema != nil {
		t.tools = t.tools.With(tool.FormatAnswer(options.AnswerSchema))
		chatOpts = append(chatOpts, hanabi.WithToolChoice(hanabi.ToolChoiceRequired))
	}
	if t.tools.Len() > 0 {
		chatOpts = append(chatOpts, hanabi.WithTools(t.tools.Tools()))
	}
	chatOpts = append(chatOpts, options.ChatOptions...)

	t.emit(event.Event{Type: event.RunStart})

	var last *hanabi.Response
	for step := 1; ; step++ {
		if step > options.MaxSteps {
			options.Logger.Debug().Int("maxSteps", options.MaxSteps).Msg("step limit reached")
			t.end(step-1, last, TerminationMaxSteps)
			return
		}
		if err := ctx.Err(); err != nil {
			t.fail(step, err)
			return
		}

		t.emit(event.Event{Type: event.StepStart, Step: step})

		resp, err := a.executeStep(t, chatOpts, step)
		if err != nil {
			t.fail(step, err)
			return
		}
		last = resp
		t.usage = t.usage.Add(resp.Usage)

		t.emit(event.Event{Type: event.StepEnd, Step: step, Response: resp})

		if len(resp.ToolCalls) == 0 {
			if msg := resp.Message(); len(msg.Parts) > 0 {
				t.append(msg)
			}
			t.end(step, resp, TerminationComplete)
			return
		}

		t.append(resp.Message())

		answer, results := a.processToolCalls(t, resp.ToolCalls, step)
		if answer != nil {
			results = append(results, hanabi.ToolResult{
				ToolCallID: answer.ID,
				ToolName:   answer.Name,
				Content:    answer.Arguments,
			})
			t.append(hanabi.NewToolResultMessage(results...))
			t.materializeAnswer(step, *answer)
			t.end(step, resp, TerminationAnswer)
			return
		}
		t.append(hanabi.NewToolResultMessage(results...))
	}
}

// materializeAnswer ends a structured turn with an assistant message whose
// text is the pretty-printed format-answer arguments.
func (t *turn) materializeAnswer(step int, call hanabi.ToolCall) {
	text := PrettyJSON(call.Arguments)
	msg := hanabi.NewAssistantMessage(text)
	msg.ID = hanabi.GenerateMessageID()

	t.emit(event.Event{Type: event.MessageStart, Step: step, MessageID: msg.ID})
	t.emit(event.Event{Type: event.MessageDelta, Step: step, MessageID: msg.ID, Delta: text})
	t.emit(event.Event{Type: event.MessageEnd, Step: step, MessageID: msg.ID})
	t.append(msg)
}

// PrettyJSON indents a JSON document with two spaces. Invalid JSON is
// returned unchanged.
func PrettyJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}

func (a *Agent) executeStep(t *turn, chatOpts []hanabi.Option, step int) (*hanabi.Response, error) {
	messageID := hanabi.GenerateMessageID()
	started := false
	start := func() {
		if !started {
			t.emit(event.Event{Type: event.MessageStart, Step: step, MessageID: messageID})
			started = true
		}
	}
	finish := func(resp *hanabi.Response) {
		if started {
			t.emit(event.Event{Type: event.MessageEnd, Step: step, MessageID: messageID, Response: resp})
		}
	}

	if !t.options.Streaming {
		resp, err := a.model.Chat(t.ctx, t.history, chatOpts...)
		if err != nil {
			return nil, err
		}
		if resp.Reasoning != "" {
			t.emit(event.Event{Type: event.ReasoningDelta, Step: step, MessageID: messageID, Delta: resp.Reasoning})
		}
		if resp.Content != "" {
			start()
			t.emit(event.Event{Type: event.MessageDelta, Step: step, MessageID: messageID, Delta: resp.Content})
		}
		finish(resp)
		return resp, nil
	}

	stream, err := a.model.ChatStream(t.ctx, t.history, chatOpts...)
	if err != nil {
		return nil, err
	}

	var resp *hanabi.Response
	for ev := range stream {
		if ev.Err != nil {
			// Drain so the provider goroutine can exit.
			for range stream {
			}
			return nil, ev.Err
		}
		if ev.Reasoning != "" {
			t.emit(event.Event{Type: event.ReasoningDelta, Step: step, MessageID: messageID, Delta: ev.Reasoning})
		}
		if ev.Delta != "" {
			start()
			t.emit(event.Event{Type: event.MessageDelta, Step: step, MessageID: messageID, Delta: ev.Delta})
		}
		if ev.Done && ev.Response != nil {
			resp = ev.Response
		}
	}
	if resp == nil {
		if err := t.ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoResponse
	}
	finish(resp)
	return resp, nil
}

// processToolCalls announces every call, then runs the ones that have
// handlers. The first format-answer call is returned separately and not
// executed; any further ones get an error result.
func (a *Agent) processToolCalls(t *turn, calls []hanabi.ToolCall, step int) (*hanabi.ToolCall, []hanabi.ToolResult) {
	var answer *hanabi.ToolCall
	var pending []hanabi.ToolCall
	var extra []hanabi.ToolResult

	for i := range calls {
		tc := calls[i]
		t.emit(event.Event{Type: event.ToolCallStart, Step: step, ToolCall: &tc})
		t.emit(event.Event{Type: event.ToolCallArgs, Step: step, ToolCall: &tc, Delta: tc.Arguments})
		t.emit(event.Event{Type: event.ToolCallEnd, Step: step, ToolCall: &tc})

		if t.options.AnswerSchema != nil && tool.IsFormatAnswer(tc) {
			if answer == nil {
				answer = &tc
			} else {
				extra = append(extra, hanabi.ToolResult{
					ToolCallID: tc.ID,
					ToolName:   tc.Name,
					Content:    "only one answer is accepted",
					IsError:    true,
				})
			}
			continue
		}
		pending = append(pending, tc)
	}

	results := make([]hanabi.ToolResult, len(pending))
	if t.options.ParallelToolCalls && len(pending) > 1 {
		var wg sync.WaitGroup
		for i, tc := range pending {
			wg.Add(1)
			go func(idx int, call hanabi.ToolCall) {
				defer wg.Done()
				results[idx] = a.executeToolCall(t, call)
			}(i, tc)
		}
		wg.Wait()
	} else {
		for i, tc := range pending {
			results[i] = a.executeToolCall(t, tc)
		}
	}

	for i := range pending {
		t.emit(event.Event{Type: event.ToolCallResult, Step: step, ToolCall: &pending[i], ToolResult: &results[i]})
	}
	return answer, append(results, extra...)
}

func (a *Agent) executeToolCall(t *turn, tc hanabi.ToolCall) hanabi.ToolResult {
	ctx := t.ctx
	if t.options.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.options.HandlerTimeout)
		defer cancel()
	}
	result := t.tools.Execute(ctx, tc)
	if result.IsError {
		t.options.Logger.Debug().Str("tool", tc.Name).Str("error", result.Content).Msg("tool call failed")
	}
	return result
}
