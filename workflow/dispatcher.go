package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/agent"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/remote"
)

// Peer calls remote agents. *remote.Client implements it.
type Peer interface {
	Generate(ctx context.Context, agent config.AgentDescriptor, req remote.GenerateRequest) (string, error)
	Chat(ctx context.Context, agent config.AgentDescriptor, req remote.ChatRequest, fn func(event.Event) error) ([]hanabi.Message, error)
}

// AgentError reports a failed call to a peer agent.
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %q: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Outcome is the result of dispatching one turn.
type Outcome struct {
	// Local is true when the turn falls back to the local conversation loop.
	// The caller's messages are left untouched.
	Local bool

	// Label is the classification, when one was made.
	Label string

	// Agents names the peer agents that were called, in order.
	Agents []string

	// Messages are the assistant messages produced by the peers.
	Messages []hanabi.Message
}

// Answer returns the text of the last produced message.
func (o *Outcome) Answer() string {
	if len(o.Messages) == 0 {
		return ""
	}
	return o.Messages[len(o.Messages)-1].Text()
}

// Dispatcher decides, per turn, whether to keep the turn local or delegate
// it to peer agents, following the configured strategy.
type Dispatcher struct {
	model        hanabi.ChatProvider
	cfg          config.MultiAgents
	peer         Peer
	log          zerolog.Logger
	onTransition func(from, to State)
	chatOpts     []hanabi.Option
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPeer sets the peer agent client. Defaults to remote.NewClient().
func WithPeer(p Peer) Option {
	return func(d *Dispatcher) {
		d.peer = p
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// WithOnTransition registers a hook called on every state change.
func WithOnTransition(fn func(from, to State)) Option {
	return func(d *Dispatcher) {
		d.onTransition = fn
	}
}

// WithChatOptions passes options to the classification call.
func WithChatOptions(opts ...hanabi.Option) Option {
	return func(d *Dispatcher) {
		d.chatOpts = append(d.chatOpts, opts...)
	}
}

// New creates a dispatcher for cfg. The model is used for classification only.
func New(model hanabi.ChatProvider, cfg config.MultiAgents, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		model: model,
		cfg:   cfg,
		log:   logging.Component("dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.peer == nil {
		d.peer = remote.NewClient(remote.WithLogger(d.log))
	}
	return d, nil
}

// Strategy returns the configured strategy.
func (d *Dispatcher) Strategy() config.Strategy {
	return d.cfg.Strategy
}

// TurnOption configures one Dispatch call.
type TurnOption func(*turnOptions)

type turnOptions struct {
	stream           func(event.Event) error
	withAnswerSchema bool
}

// WithStream lets the final agent stream its response through fn instead of
// returning plain text. fn also receives transitions and step events.
// Answers that are not streamed by the peer are replayed through fn as one
// text message.
func WithStream(fn func(event.Event) error) TurnOption {
	return func(o *turnOptions) {
		o.stream = fn
	}
}

// WithAnswerSchema asks streaming peers for a structured answer.
func WithAnswerSchema(enabled bool) TurnOption {
	return func(o *turnOptions) {
		o.withAnswerSchema = enabled
	}
}

// Dispatch runs the dispatcher for one turn. messages must end with a user
// message. Peer failures, including unreachable agents, are returned as
// errors; an agent without an apiUrl contributes an empty answer.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []hanabi.Message, opts ...TurnOption) (*Outcome, error) {
	if err := agent.CheckTurn(messages); err != nil {
		return nil, err
	}
	r := &run{d: d, ctx: ctx, state: StateIdle}
	for _, opt := range opts {
		opt(&r.opts)
	}
	defer r.moveTo(StateCompleted)

	d.log.Info().Str("strategy", string(d.cfg.Strategy)).Msg("multi-agent strategy")

	var out *Outcome
	var err error
	switch d.cfg.Strategy {
	case config.StrategyRouting:
		out, err = r.routing(messages)
	case config.StrategyWorkflow:
		out, err = r.workflow(messages)
	case config.StrategyParallel:
		out, err = r.parallel(messages)
	}
	if err == nil && r.streamErr != nil {
		err = r.streamErr
	}
	return out, err
}

// run is the state of one Dispatch call.
type run struct {
	d         *Dispatcher
	ctx       context.Context
	opts      turnOptions
	state     State
	streamErr error
}

func (r *run) moveTo(to State) {
	from := r.state
	if from == to || !CanTransition(from, to) {
		return
	}
	r.state = to
	r.d.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("dispatcher transition")
	if r.d.onTransition != nil {
		r.d.onTransition(from, to)
	}
	r.emit(event.Event{Type: event.Transition, Message: string(to)})
}

func (r *run) emit(e event.Event) {
	if r.opts.stream == nil || r.streamErr != nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	r.streamErr = r.opts.stream(e)
}

// classify runs the classification gate. Labels outside the set fall back
// to NoClassification.
func (r *run) classify(messages []hanabi.Message, labels []string) (string, error) {
	r.moveTo(StateClassifying)
	label, err := Classify(r.ctx, r.d.model, messages, labels, r.d.chatOpts...)
	var ambiguous *hanabi.ClassificationAmbiguityError
	if errors.As(err, &ambiguous) {
		r.d.log.Warn().Str("label", ambiguous.Label).Strs("allowed", labels).Msg("classification outside label set, handling locally")
		return NoClassification, nil
	}
	if err != nil {
		return "", err
	}
	r.d.log.Info().Str("classification", label).Msg("classified")
	return label, nil
}

func (r *run) local(label string) *Outcome {
	r.moveTo(StateLocalFallback)
	return &Outcome{Local: true, Label: label}
}

func (r *run) routing(messages []hanabi.Message) (*Outcome, error) {
	byLabel := make(map[string]config.AgentDescriptor, len(r.d.cfg.Agents))
	var labels []string
	for _, a := range r.d.cfg.Agents {
		if _, seen := byLabel[a.Classification]; !seen {
			labels = append(labels, a.Classification)
		}
		byLabel[a.Classification] = a
	}
	if !r.d.cfg.Force {
		labels = append(labels, NoClassification)
	}

	label, err := r.classify(messages, labels)
	if err != nil {
		return nil, err
	}
	if label == NoClassification {
		return r.local(label), nil
	}

	target := byLabel[label]
	r.moveTo(StateDispatching)
	r.d.log.Info().Str("agent", target.Name).Msg("worker agent")
	r.emit(event.Event{Type: event.RouteSelected, RouteName: label, StepName: target.Name})

	msgs, err := r.ask(target, remote.GenerateRequest{Messages: messages}, true)
	if err != nil {
		return nil, err
	}
	return &Outcome{Label: label, Agents: []string{target.Name}, Messages: msgs}, nil
}

// workflow chains the agents: the first gets the latest message, each
// following one gets the previous answer as its prompt.
func (r *run) workflow(messages []hanabi.Message) (*Outcome, error) {
	r.moveTo(StateDispatching)

	agents := r.d.cfg.Agents
	out := &Outcome{}
	input := remote.GenerateRequest{Messages: messages[len(messages)-1:]}

	for i, a := range agents {
		step := i + 1
		out.Agents = append(out.Agents, a.Name)
		r.d.log.Info().Int("step", step).Str("agent", a.Name).Msg("workflow step")
		r.emit(event.Event{Type: event.StepStart, Step: step, StepName: a.Name})

		if i == len(agents)-1 {
			msgs, err := r.ask(a, input, true)
			if err != nil {
				return nil, err
			}
			r.emit(event.Event{Type: event.StepEnd, Step: step, StepName: a.Name})
			out.Messages = msgs
			return out, nil
		}

		answer, err := r.d.peer.Generate(r.ctx, a, input)
		if err != nil {
			return nil, &AgentError{Agent: a.Name, Err: err}
		}
		r.d.log.Debug().Int("step", step).Str("output", answer).Msg("workflow step output")
		r.emit(event.Event{Type: event.StepEnd, Step: step, StepName: a.Name})
		input = remote.GenerateRequest{Prompt: answer}
	}
	return out, nil
}

// parallel fans the latest user message out to every agent once the gate
// classifies the turn as a task. Answers are joined in configuration order.
func (r *run) parallel(messages []hanabi.Message) (*Outcome, error) {
	label, err := r.classify(messages, []string{LabelTask, LabelFollowUp})
	if err != nil {
		return nil, err
	}
	if label != LabelTask {
		return r.local(label), nil
	}
	r.moveTo(StateDispatching)

	last, _ := hanabi.LastUserMessage(messages)
	agents := r.d.cfg.Agents
	answers := make([]string, len(agents))

	g, ctx := errgroup.WithContext(r.ctx)
	for i, a := range agents {
		g.Go(func() error {
			answer, err := r.d.peer.Generate(ctx, a, remote.GenerateRequest{Messages: []hanabi.Message{last}})
			if err != nil {
				return &AgentError{Agent: a.Name, Err: err}
			}
			answers[i] = answer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sections := make([]string, len(agents))
	names := make([]string, len(agents))
	for i, a := range agents {
		sections[i] = fmt.Sprintf("### %s\n%s", a.Name, answers[i])
		names[i] = a.Name
	}
	msg := r.textMessage(strings.Join(sections, "\n\n"))
	return &Outcome{Label: label, Agents: names, Messages: []hanabi.Message{msg}}, nil
}

// ask calls one agent. The final agent of a streamed turn uses /chat and its
// events are forwarded; otherwise /generate is used.
func (r *run) ask(a config.AgentDescriptor, input remote.GenerateRequest, final bool) ([]hanabi.Message, error) {
	if !final || r.opts.stream == nil {
		answer, err := r.d.peer.Generate(r.ctx, a, input)
		if err != nil {
			return nil, &AgentError{Agent: a.Name, Err: err}
		}
		return []hanabi.Message{r.textMessage(answer)}, nil
	}

	chatMessages := input.Messages
	if input.Prompt != "" || len(chatMessages) == 0 {
		chatMessages = []hanabi.Message{hanabi.NewUserMessage(input.Prompt)}
	}
	req := remote.ChatRequest{Messages: chatMessages, WithAnswerSchema: r.opts.withAnswerSchema}

	msgs, err := r.d.peer.Chat(r.ctx, a, req, func(e event.Event) error {
		switch e.Type {
		case event.RunStart, event.RunEnd, event.RunError:
			// The peer's run is part of ours.
			return nil
		}
		r.emit(e)
		return r.streamErr
	})
	if err != nil {
		return nil, &AgentError{Agent: a.Name, Err: err}
	}
	if len(msgs) == 0 {
		// An agent without an apiUrl answers empty.
		return []hanabi.Message{r.textMessage("")}, nil
	}
	return msgs, nil
}

// textMessage builds an assistant message and replays it to the stream.
func (r *run) textMessage(text string) hanabi.Message {
	msg := hanabi.NewAssistantMessage(text)
	msg.ID = hanabi.GenerateMessageID()
	r.emit(event.Event{Type: event.MessageStart, MessageID: msg.ID})
	if text != "" {
		r.emit(event.Event{Type: event.MessageDelta, MessageID: msg.ID, Delta: text})
	}
	r.emit(event.Event{Type: event.MessageEnd, MessageID: msg.ID})
	return msg
}
