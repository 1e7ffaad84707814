// Package chat runs one chat turn the way every front end needs it: the
// multi-agent dispatcher first when peers are configured, and the local
// conversation loop over the built-in and MCP tools otherwise.
//
// The terminal REPL and the HTTP server both drive turns through a Runner,
// so they agree on system prompts, tool sets, step limits and fallback.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/agent"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/tool"
	"github.com/spetersoncode/hanabi/workflow"
)

// ToolSource loads the tools of MCP servers by key. *mcp.Registry
// implements it.
type ToolSource interface {
	GetTools(ctx context.Context, keys []string) (*tool.Set, error)
}

// Runner runs turns against one configuration and model.
type Runner struct {
	cfg            *config.Config
	model          hanabi.ChatProvider
	tools          ToolSource
	workDir        string
	dispatcherOpts []workflow.Option
	now            func() time.Time
	log            zerolog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkDir sets the directory of the shell tool and the prompt file.
func WithWorkDir(dir string) Option {
	return func(r *Runner) { r.workDir = dir }
}

// WithDispatcherOptions passes options to the multi-agent dispatcher.
func WithDispatcherOptions(opts ...workflow.Option) Option {
	return func(r *Runner) { r.dispatcherOpts = append(r.dispatcherOpts, opts...) }
}

// WithClock sets the clock used for the date in the system prompt.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// NewRunner creates a Runner. tools may be nil when no MCP server is used.
func NewRunner(cfg *config.Config, model hanabi.ChatProvider, tools ToolSource, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		model:   model,
		tools:   tools,
		workDir: config.WorkDir(),
		now:     time.Now,
		log:     logging.Component("chat"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request is one turn.
type Request struct {
	// Messages is the conversation without system messages. It must end with
	// a user message.
	Messages []hanabi.Message

	// MCPKeys selects the MCP servers whose tools the local loop may use.
	MCPKeys []string

	// Local skips the multi-agent dispatcher.
	Local bool

	// WithAnswerSchema ends the turn with a format-answer call when the
	// configuration has an answer schema.
	WithAnswerSchema bool

	// Streaming selects streamed model calls in the local loop.
	Streaming bool

	// Stream receives every event of the turn. Returning an error stops the
	// turn.
	Stream func(event.Event) error

	// Sink receives the visible output when Stream is nil.
	Sink agent.Sink
}

// Reply is the outcome of a turn.
type Reply struct {
	// Messages are the messages the turn produced.
	Messages []hanabi.Message

	// Outcome is set when the dispatcher ran.
	Outcome *workflow.Outcome

	// Result is set when the local loop ran.
	Result *agent.Result
}

// Delegated reports whether peer agents answered the turn.
func (r *Reply) Delegated() bool {
	return r.Outcome != nil && !r.Outcome.Local
}

// Answer returns the text of the last assistant message.
func (r *Reply) Answer() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == hanabi.RoleAssistant {
			if text := r.Messages[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

// Usage returns the tokens spent by the local loop.
func (r *Reply) Usage() hanabi.Usage {
	if r.Result == nil {
		return hanabi.Usage{}
	}
	return r.Result.Usage
}

// Turn runs one guarded turn on the session.
func (r *Runner) Turn(ctx context.Context, s *agent.Session, req Request) (*Reply, error) {
	release, err := s.BeginTurn(req.Messages)
	if err != nil {
		return nil, err
	}
	defer release()

	log := r.log.With().Str("session", s.ID).Logger()
	reply := &Reply{}

	if ma := r.cfg.MultiAgents; ma != nil && len(ma.Agents) > 0 && !req.Local {
		opts := append([]workflow.Option{workflow.WithLogger(log)}, r.dispatcherOpts...)
		d, err := workflow.New(r.model, *ma, opts...)
		if err != nil {
			return nil, err
		}
		topts := []workflow.TurnOption{workflow.WithAnswerSchema(req.WithAnswerSchema)}
		if req.Stream != nil {
			topts = append(topts, workflow.WithStream(req.Stream))
		}
		out, err := d.Dispatch(ctx, req.Messages, topts...)
		reply.Outcome = out
		if err != nil {
			return reply, err
		}
		if !out.Local {
			reply.Messages = out.Messages
			if req.Stream == nil && req.Sink != nil {
				req.Sink.Text(out.Answer())
			}
			return reply, nil
		}
		log.Info().Str("label", out.Label).Msg("falling back to the local loop")
	}

	res, err := r.local(ctx, log, req)
	reply.Result = res
	if res != nil {
		reply.Messages = res.Messages
	}
	return reply, err
}

func (r *Runner) local(ctx context.Context, log zerolog.Logger, req Request) (*agent.Result, error) {
	var mcpTools *tool.Set
	if r.tools != nil && len(req.MCPKeys) > 0 {
		// Servers that fail are logged by the source; the turn goes on
		// with whatever loaded.
		mcpTools, _ = r.tools.GetTools(ctx, req.MCPKeys)
	}
	tools := tool.Merge(mcpTools, tool.NewSet(tool.ShellCommand(r.workDir)))

	history := append(r.cfg.SystemMessages(r.workDir, r.now()), req.Messages...)
	opts := []agent.Option{
		agent.WithMaxSteps(r.cfg.Steps()),
		agent.WithStreaming(req.Streaming),
		agent.WithLogger(log),
	}
	if req.WithAnswerSchema && len(r.cfg.AnswerSchema) > 0 {
		opts = append(opts, agent.WithAnswerSchema(r.cfg.AnswerSchema))
	}

	a := agent.New(r.model, tools)
	if req.Stream == nil {
		opts = append(opts, agent.WithSink(req.Sink))
		return a.Run(ctx, history, opts...)
	}
	return forward(ctx, a, history, req.Stream, opts)
}

// forward runs the loop, handing every event to fn, and assembles the
// result from the terminal event.
func forward(ctx context.Context, a *agent.Agent, history []hanabi.Message, fn func(event.Event) error, opts []agent.Option) (*agent.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &agent.Result{}
	var streamErr error
	for ev := range a.RunStream(ctx, history, opts...) {
		if streamErr == nil {
			if streamErr = fn(ev); streamErr != nil {
				cancel()
			}
		}
		if ev.Step > res.Steps {
			res.Steps = ev.Step
		}
		switch ev.Type {
		case event.StepEnd:
			res.Response = ev.Response
		case event.RunEnd:
			res.Messages, res.Usage = ev.Messages, ev.Usage
			res.Termination = agent.TerminationReason(ev.Message)
		case event.RunError:
			res.Messages, res.Usage = ev.Messages, ev.Usage
			res.Error = ev.Error
			res.Termination = agent.TerminationError
		}
	}
	if streamErr != nil {
		return res, streamErr
	}
	if res.Termination == "" {
		res.Error = errors.Join(ctx.Err(), agent.ErrNoResponse)
		res.Termination = agent.TerminationError
	}
	return res, res.Error
}
