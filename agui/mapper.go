package agui

import (
	"fmt"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/hanabi/event"
)

// Custom event names for dispatcher events.
const (
	CustomTransition    = "hanabi.transition"
	CustomRouteSelected = "hanabi.route_selected"
)

// Mapper converts hanabi events to AG-UI events for one run.
//
// Create a new Mapper for each run using NewMapper. The Mapper is not
// safe for concurrent use.
type Mapper struct {
	threadID string
	runID    string
}

// NewMapper creates a new Mapper for a single run. Empty ids are generated.
func NewMapper(threadID, runID string) *Mapper {
	if threadID == "" {
		threadID = events.GenerateThreadID()
	}
	if runID == "" {
		runID = events.GenerateRunID()
	}
	return &Mapper{threadID: threadID, runID: runID}
}

// ThreadID returns the thread ID for this mapper.
func (m *Mapper) ThreadID() string {
	return m.threadID
}

// RunID returns the run ID for this mapper.
func (m *Mapper) RunID() string {
	return m.runID
}

// RunStarted returns a RUN_STARTED event.
func (m *Mapper) RunStarted() events.Event {
	return events.NewRunStartedEvent(m.threadID, m.runID)
}

// RunFinished returns a RUN_FINISHED event.
func (m *Mapper) RunFinished() events.Event {
	return events.NewRunFinishedEvent(m.threadID, m.runID)
}

// RunError returns a RUN_ERROR event.
func (m *Mapper) RunError(err error) events.Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return events.NewRunErrorEvent(msg)
}

// MapEvent converts one hanabi event to zero or more AG-UI events.
//
// RunEnd becomes a MESSAGES_SNAPSHOT of the messages the turn produced,
// followed by RUN_FINISHED, so a remote caller can rebuild the turn's
// history from the stream alone.
func (m *Mapper) MapEvent(e event.Event) []events.Event {
	switch e.Type {
	case event.RunStart:
		return one(m.RunStarted())
	case event.RunEnd:
		out := make([]events.Event, 0, 2)
		if len(e.Messages) > 0 {
			out = append(out, events.NewMessagesSnapshotEvent(FromMessages(e.Messages)))
		}
		return append(out, m.RunFinished())
	case event.RunError:
		return one(m.RunError(e.Error))

	case event.StepStart:
		return one(events.NewStepStartedEvent(stepName(e)))
	case event.StepEnd:
		return one(events.NewStepFinishedEvent(stepName(e)))

	case event.MessageStart:
		return one(events.NewTextMessageStartEvent(e.MessageID, events.WithRole(RoleAssistant)))
	case event.MessageDelta:
		if e.Delta == "" {
			return nil
		}
		return one(events.NewTextMessageContentEvent(e.MessageID, e.Delta))
	case event.MessageEnd:
		return one(events.NewTextMessageEndEvent(e.MessageID))
	case event.ReasoningDelta:
		if e.Delta == "" {
			return nil
		}
		return one(events.NewThinkingTextMessageContentEvent(e.Delta))

	case event.ToolCallStart:
		if e.ToolCall == nil {
			return nil
		}
		return one(events.NewToolCallStartEvent(e.ToolCall.ID, e.ToolCall.Name))
	case event.ToolCallArgs:
		if e.ToolCall == nil || e.ToolCall.Arguments == "" {
			return nil
		}
		return one(events.NewToolCallArgsEvent(e.ToolCall.ID, e.ToolCall.Arguments))
	case event.ToolCallEnd:
		if e.ToolCall == nil {
			return nil
		}
		return one(events.NewToolCallEndEvent(e.ToolCall.ID))
	case event.ToolCallResult:
		if e.ToolCall == nil || e.ToolResult == nil {
			return nil
		}
		return one(events.NewToolCallResultEvent(events.GenerateMessageID(), e.ToolCall.ID, e.ToolResult.Content))

	case event.Transition:
		return one(events.NewCustomEvent(CustomTransition, events.WithValue(e.Message)))
	case event.RouteSelected:
		return one(events.NewCustomEvent(CustomRouteSelected, events.WithValue(map[string]string{
			"route": e.RouteName,
			"agent": e.StepName,
		})))

	default:
		return nil
	}
}

// MapStream maps a whole event stream. The returned channel closes when in does.
func (m *Mapper) MapStream(in <-chan event.Event) <-chan events.Event {
	out := make(chan events.Event, 100)
	go func() {
		defer close(out)
		for e := range in {
			for _, ev := range m.MapEvent(e) {
				out <- ev
			}
		}
	}()
	return out
}

func one(e events.Event) []events.Event {
	return []events.Event{e}
}

func stepName(e event.Event) string {
	if e.StepName != "" {
		return e.StepName
	}
	return fmt.Sprintf("step-%d", e.Step)
}
