package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/agent"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/remote"
	"github.com/spetersoncode/hanabi/tool"
	"github.com/spetersoncode/hanabi/workflow"
)

// scriptedModel answers each call with the next response.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*hanabi.Response
	calls     [][]hanabi.Message
	options   []*hanabi.Options
}

func (m *scriptedModel) next(messages []hanabi.Message, opts []hanabi.Option) *hanabi.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	m.options = append(m.options, hanabi.ApplyOptions(opts...))
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		return &hanabi.Response{Content: "done"}
	}
	return m.responses[i]
}

func (m *scriptedModel) Chat(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (*hanabi.Response, error) {
	return m.next(messages, opts), nil
}

func (m *scriptedModel) ChatStream(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (<-chan hanabi.StreamEvent, error) {
	resp := m.next(messages, opts)
	ch := make(chan hanabi.StreamEvent, 2)
	if resp.Content != "" {
		ch <- hanabi.StreamEvent{Delta: resp.Content}
	}
	ch <- hanabi.StreamEvent{Done: true, Response: resp}
	close(ch)
	return ch, nil
}

type fakeTools struct {
	keys []string
}

func (f *fakeTools) GetTools(ctx context.Context, keys []string) (*tool.Set, error) {
	f.keys = keys
	return tool.NewSet(tool.Descriptor{
		Tool: hanabi.Tool{Name: "mcp-echo", Description: "echo"},
		Handler: func(ctx context.Context, call hanabi.ToolCall) (string, error) {
			return call.Arguments, nil
		},
		Source: "echo",
	}), errors.New("mcp server \"broken\": refused")
}

type fakePeer struct {
	answer string
	got    []remote.GenerateRequest
}

func (p *fakePeer) Generate(ctx context.Context, a config.AgentDescriptor, req remote.GenerateRequest) (string, error) {
	p.got = append(p.got, req)
	return p.answer, nil
}

func (p *fakePeer) Chat(ctx context.Context, a config.AgentDescriptor, req remote.ChatRequest, fn func(event.Event) error) ([]hanabi.Message, error) {
	return []hanabi.Message{hanabi.NewAssistantMessage(p.answer)}, nil
}

type textSink struct{ strings.Builder }

func (s *textSink) Text(delta string)            { s.WriteString(delta) }
func (s *textSink) Reasoning(string)             {}
func (s *textSink) ToolCall(hanabi.ToolCall)     {}
func (s *textSink) ToolResult(hanabi.ToolResult) {}

func fixedClock() time.Time { return time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) }

func newRunner(cfg *config.Config, model hanabi.ChatProvider, opts ...Option) *Runner {
	opts = append([]Option{WithWorkDir("/tmp"), WithClock(fixedClock)}, opts...)
	return NewRunner(cfg, model, &fakeTools{}, opts...)
}

func userTurn(text string) []hanabi.Message {
	return []hanabi.Message{hanabi.NewUserMessage(text)}
}

func TestTurn_Local(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "hello back"}}}
	tools := &fakeTools{}
	r := NewRunner(&config.Config{SystemPrompt: "be nice"}, model, tools, WithWorkDir(t.TempDir()), WithClock(fixedClock))
	s := agent.NewSession()
	sink := &textSink{}

	reply, err := r.Turn(context.Background(), s, Request{
		Messages: userTurn("hello"),
		MCPKeys:  []string{"echo"},
		Sink:     sink,
	})

	require.NoError(t, err)
	assert.False(t, reply.Delegated())
	assert.Equal(t, "hello back", reply.Answer())
	assert.Equal(t, "hello back", sink.String())
	assert.Equal(t, []string{"echo"}, tools.keys)
	assert.False(t, s.Busy())

	require.Len(t, model.calls, 1)
	sent := model.calls[0]
	require.Len(t, sent, 3)
	assert.Equal(t, hanabi.RoleSystem, sent[0].Role)
	assert.Equal(t, "be nice", sent[1].Text())
	assert.Equal(t, "hello", sent[2].Text())

	var names []string
	for _, tl := range model.options[0].Tools {
		names = append(names, tl.Name)
	}
	assert.Equal(t, []string{"mcp-echo", tool.ShellCommandName}, names)
}

func TestTurn_Guards(t *testing.T) {
	r := newRunner(&config.Config{}, &scriptedModel{})

	t.Run("last message must be from the user", func(t *testing.T) {
		s := agent.NewSession()
		_, err := r.Turn(context.Background(), s, Request{
			Messages: []hanabi.Message{hanabi.NewAssistantMessage("hi")},
		})
		assert.ErrorIs(t, err, agent.ErrNoUserMessage)
		assert.False(t, s.Busy())
	})

	t.Run("one turn at a time", func(t *testing.T) {
		s := agent.NewSession()
		release, err := s.Begin()
		require.NoError(t, err)
		defer release()

		_, err = r.Turn(context.Background(), s, Request{Messages: userTurn("hi")})
		assert.ErrorIs(t, err, agent.ErrTurnInFlight)
	})
}

func routingConfig() *config.Config {
	return &config.Config{MultiAgents: &config.MultiAgents{
		Strategy: config.StrategyRouting,
		Agents: []config.AgentDescriptor{
			{Name: "billing-agent", APIURL: "http://peer/api", Classification: "billing"},
		},
	}}
}

func TestTurn_Delegated(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "billing"}}}
	peer := &fakePeer{answer: "your invoice is paid"}
	r := newRunner(routingConfig(), model, WithDispatcherOptions(workflow.WithPeer(peer)))
	sink := &textSink{}

	reply, err := r.Turn(context.Background(), agent.NewSession(), Request{
		Messages: userTurn("is my invoice paid?"),
		Sink:     sink,
	})

	require.NoError(t, err)
	assert.True(t, reply.Delegated())
	assert.Nil(t, reply.Result)
	assert.Equal(t, "your invoice is paid", reply.Answer())
	assert.Equal(t, "your invoice is paid", sink.String())
	assert.Len(t, model.calls, 1)
}

func TestTurn_LocalFallback(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{
		{Content: workflow.NoClassification},
		{Content: "answered locally"},
	}}
	peer := &fakePeer{answer: "unused"}
	r := newRunner(routingConfig(), model, WithDispatcherOptions(workflow.WithPeer(peer)))

	reply, err := r.Turn(context.Background(), agent.NewSession(), Request{Messages: userTurn("hi")})

	require.NoError(t, err)
	require.NotNil(t, reply.Outcome)
	assert.True(t, reply.Outcome.Local)
	assert.False(t, reply.Delegated())
	assert.Equal(t, "answered locally", reply.Answer())
	assert.Empty(t, peer.got)
	assert.Len(t, model.calls, 2)
}

func TestTurn_Stream(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "streamed"}}}
	r := newRunner(&config.Config{}, model)
	var types []event.Type

	reply, err := r.Turn(context.Background(), agent.NewSession(), Request{
		Messages:  userTurn("hi"),
		Streaming: true,
		Stream: func(e event.Event) error {
			types = append(types, e.Type)
			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "streamed", reply.Answer())
	assert.Equal(t, agent.TerminationComplete, reply.Result.Termination)
	require.NotEmpty(t, types)
	assert.Equal(t, event.RunStart, types[0])
	assert.Equal(t, event.RunEnd, types[len(types)-1])
	assert.Contains(t, types, event.MessageDelta)
}

func TestTurn_StreamConsumerGone(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "streamed"}}}
	r := newRunner(&config.Config{}, model)
	gone := errors.New("client went away")

	_, err := r.Turn(context.Background(), agent.NewSession(), Request{
		Messages: userTurn("hi"),
		Stream:   func(event.Event) error { return gone },
	})

	assert.ErrorIs(t, err, gone)
}

func TestTurn_AnswerSchema(t *testing.T) {
	schema := []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`)
	model := &scriptedModel{responses: []*hanabi.Response{{
		ToolCalls: []hanabi.ToolCall{{ID: "c1", Name: tool.FormatAnswerName, Arguments: `{"city":"Paris"}`}},
	}}}
	r := newRunner(&config.Config{AnswerSchema: schema}, model)

	t.Run("requested", func(t *testing.T) {
		reply, err := r.Turn(context.Background(), agent.NewSession(), Request{
			Messages:         userTurn("capital of France?"),
			WithAnswerSchema: true,
		})

		require.NoError(t, err)
		assert.Equal(t, agent.TerminationAnswer, reply.Result.Termination)
		assert.JSONEq(t, `{"city":"Paris"}`, reply.Answer())
		assert.Equal(t, hanabi.ToolChoiceRequired, model.options[0].ToolChoice)
	})

	t.Run("not requested", func(t *testing.T) {
		model.responses = append(model.responses, &hanabi.Response{Content: "Paris"})
		reply, err := r.Turn(context.Background(), agent.NewSession(), Request{
			Messages: userTurn("capital of France?"),
		})

		require.NoError(t, err)
		assert.Equal(t, "Paris", reply.Answer())
		for _, tl := range model.options[1].Tools {
			assert.NotEqual(t, tool.FormatAnswerName, tl.Name)
		}
	})
}

func TestTurn_LocalSkipsDispatcher(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "direct"}}}
	peer := &fakePeer{answer: "unused"}
	r := newRunner(routingConfig(), model, WithDispatcherOptions(workflow.WithPeer(peer)))

	reply, err := r.Turn(context.Background(), agent.NewSession(), Request{Messages: userTurn("hi"), Local: true})

	require.NoError(t, err)
	assert.Nil(t, reply.Outcome)
	assert.Equal(t, "direct", reply.Answer())
	assert.Len(t, model.calls, 1)
}
