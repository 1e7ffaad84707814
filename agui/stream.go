package agui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/internal/sse"
)

// WriteSSE writes an AG-UI event as one SSE frame: "event: TYPE" plus its
// JSON encoding as data.
func WriteSSE(w io.Writer, ev events.Event) error {
	data, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if err := sse.Write(w, string(ev.Type()), data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// RemoteRunError is the error carried by a RUN_ERROR event.
type RemoteRunError struct {
	Message string
}

func (e *RemoteRunError) Error() string {
	return "remote run failed: " + e.Message
}

// Decoder turns AG-UI events back into hanabi events. It is the inverse of
// Mapper: the MESSAGES_SNAPSHOT before RUN_FINISHED becomes the Messages of
// the RunEnd event. Without a snapshot, the streamed text is collected into
// one assistant message.
type Decoder struct {
	snapshot []hanabi.Message
	text     strings.Builder
}

// NewDecoder creates a decoder for one run.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode converts ev. It reports false for events with no hanabi equivalent.
func (d *Decoder) Decode(ev events.Event) (event.Event, bool) {
	switch e := ev.(type) {
	case *events.RunStartedEvent:
		return event.Event{Type: event.RunStart}, true
	case *events.RunFinishedEvent:
		return event.Event{Type: event.RunEnd, Messages: d.Messages()}, true
	case *events.RunErrorEvent:
		return event.Event{Type: event.RunError, Error: &RemoteRunError{Message: e.Message}}, true

	case *events.StepStartedEvent:
		return event.Event{Type: event.StepStart, StepName: e.StepName}, true
	case *events.StepFinishedEvent:
		return event.Event{Type: event.StepEnd, StepName: e.StepName}, true

	case *events.TextMessageStartEvent:
		return event.Event{Type: event.MessageStart, MessageID: e.MessageID}, true
	case *events.TextMessageContentEvent:
		d.text.WriteString(e.Delta)
		return event.Event{Type: event.MessageDelta, MessageID: e.MessageID, Delta: e.Delta}, true
	case *events.TextMessageEndEvent:
		return event.Event{Type: event.MessageEnd, MessageID: e.MessageID}, true
	case *events.ThinkingTextMessageContentEvent:
		return event.Event{Type: event.ReasoningDelta, Delta: e.Delta}, true

	case *events.ToolCallStartEvent:
		return event.Event{Type: event.ToolCallStart, ToolCall: &hanabi.ToolCall{ID: e.ToolCallID, Name: e.ToolCallName}}, true
	case *events.ToolCallArgsEvent:
		return event.Event{Type: event.ToolCallArgs, Delta: e.Delta, ToolCall: &hanabi.ToolCall{ID: e.ToolCallID, Arguments: e.Delta}}, true
	case *events.ToolCallEndEvent:
		return event.Event{Type: event.ToolCallEnd, ToolCall: &hanabi.ToolCall{ID: e.ToolCallID}}, true
	case *events.ToolCallResultEvent:
		return event.Event{
			Type:       event.ToolCallResult,
			ToolCall:   &hanabi.ToolCall{ID: e.ToolCallID},
			ToolResult: &hanabi.ToolResult{ToolCallID: e.ToolCallID, Content: e.Content},
		}, true

	case *events.MessagesSnapshotEvent:
		d.snapshot = ToMessages(e.Messages)
		return event.Event{}, false

	default:
		return event.Event{}, false
	}
}

// Messages returns the snapshot messages, or the collected text as one
// assistant message.
func (d *Decoder) Messages() []hanabi.Message {
	if d.snapshot != nil {
		return d.snapshot
	}
	if d.text.Len() == 0 {
		return nil
	}
	msg := hanabi.NewAssistantMessage(d.text.String())
	msg.ID = hanabi.GenerateMessageID()
	return []hanabi.Message{msg}
}

// ReadSSE decodes an AG-UI SSE stream from r and calls fn for each event,
// in order, until the stream ends, fn fails or RUN_FINISHED/RUN_ERROR is
// seen. Frames that are not valid AG-UI events are a *hanabi.ProtocolError.
func ReadSSE(r io.Reader, fn func(event.Event) error) error {
	reader := sse.NewReader(r)
	dec := NewDecoder()
	for {
		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(frame.Data) == 0 {
			continue
		}
		ev, err := events.EventFromJSON([]byte(frame.Data))
		if err != nil {
			return &hanabi.ProtocolError{Msg: "invalid AG-UI event: " + err.Error(), Raw: []byte(frame.Data)}
		}
		e, ok := dec.Decode(ev)
		if !ok {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
		if e.Type == event.RunEnd || e.Type == event.RunError {
			return nil
		}
	}
}
