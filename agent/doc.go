// Package agent runs the conversation loop of a chat turn.
//
// A turn is a bounded sequence of model calls. After each call the tool
// calls the model requested are executed against a read-only tool.Set and
// their results appended to the history, until the model answers in plain
// text or the step limit runs out:
//
//	a := agent.New(model, tools)
//	result, err := a.Run(ctx, history,
//	    agent.WithMaxSteps(10),
//	    agent.WithStreaming(true),
//	    agent.WithSink(agent.NewWriterSink(os.Stdout)),
//	)
//
// RunStream exposes the same loop as a channel of event.Event values, which
// is what the HTTP server maps onto AG-UI.
//
// # Structured answers
//
// WithAnswerSchema adds the synthetic format-answer tool and forces the model
// to call a tool on every step. When it calls format-answer the turn ends
// with a tool message echoing the arguments and an assistant message holding
// them as indented JSON, so every completed turn ends in assistant text.
//
// # Sessions
//
// A Session allows one turn in flight at a time. Session.BeginTurn checks
// the history ends with a user message before claiming the session; RunTurn
// wraps a single agent run in it.
package agent
