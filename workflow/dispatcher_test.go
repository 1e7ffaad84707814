package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/remote"
)

// classifierModel answers every Chat call with a classify tool call.
type classifierModel struct {
	mu     sync.Mutex
	label  string
	text   string
	err    error
	calls  int
	labels []string
}

func (m *classifierModel) Chat(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (*hanabi.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	o := hanabi.ApplyOptions(opts...)
	if len(o.Tools) == 1 {
		var schema struct {
			Properties map[string]struct {
				Enum []string `json:"enum"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(o.Tools[0].Parameters, &schema); err == nil {
			m.labels = schema.Properties[classifyProperty].Enum
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.label == "" {
		return &hanabi.Response{Content: m.text}, nil
	}
	args, _ := json.Marshal(map[string]string{classifyProperty: m.label})
	return &hanabi.Response{ToolCalls: []hanabi.ToolCall{{ID: "c1", Name: classifyToolName, Arguments: string(args)}}}, nil
}

func (m *classifierModel) ChatStream(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (<-chan hanabi.StreamEvent, error) {
	return nil, errors.New("not used")
}

type peerCall struct {
	agent string
	req   remote.GenerateRequest
	chat  *remote.ChatRequest
}

// fakePeer answers with "<name>: <input>" unless an answer is configured.
type fakePeer struct {
	mu      sync.Mutex
	calls   []peerCall
	answers map[string]string
	delays  map[string]time.Duration
	errs    map[string]error
}

func (p *fakePeer) record(c peerCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
}

func (p *fakePeer) Generate(ctx context.Context, agent config.AgentDescriptor, req remote.GenerateRequest) (string, error) {
	p.record(peerCall{agent: agent.Name, req: req})
	if d := p.delays[agent.Name]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := p.errs[agent.Name]; err != nil {
		return "", err
	}
	if a, ok := p.answers[agent.Name]; ok {
		return a, nil
	}
	input := req.Prompt
	if len(req.Messages) > 0 {
		input = req.Messages[len(req.Messages)-1].Text()
	}
	return agent.Name + ": " + input, nil
}

func (p *fakePeer) Chat(ctx context.Context, agent config.AgentDescriptor, req remote.ChatRequest, fn func(event.Event) error) ([]hanabi.Message, error) {
	p.record(peerCall{agent: agent.Name, chat: &req})
	text := agent.Name + " streamed"
	for _, e := range []event.Event{
		{Type: event.RunStart},
		{Type: event.MessageStart, MessageID: "p1"},
		{Type: event.MessageDelta, MessageID: "p1", Delta: text},
		{Type: event.MessageEnd, MessageID: "p1"},
		{Type: event.RunEnd},
	} {
		if err := fn(e); err != nil {
			return nil, err
		}
	}
	return []hanabi.Message{hanabi.NewAssistantMessage(text)}, nil
}

func (p *fakePeer) agentsCalled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.calls))
	for i, c := range p.calls {
		names[i] = c.agent
	}
	return names
}

func history(texts ...string) []hanabi.Message {
	var msgs []hanabi.Message
	for i, t := range texts {
		if i%2 == 0 {
			msgs = append(msgs, hanabi.NewUserMessage(t))
		} else {
			msgs = append(msgs, hanabi.NewAssistantMessage(t))
		}
	}
	return msgs
}

func routingConfig(force bool) config.MultiAgents {
	return config.MultiAgents{
		Strategy: config.StrategyRouting,
		Force:    force,
		Agents: []config.AgentDescriptor{
			{Name: "agentA", APIURL: "http://a", Classification: "math"},
			{Name: "agentB", APIURL: "http://b", Classification: "weather"},
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("unknown strategy", func(t *testing.T) {
		_, err := New(&classifierModel{}, config.MultiAgents{Strategy: "vote", Agents: []config.AgentDescriptor{{Name: "a"}}})
		var cerr *hanabi.ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "multiAgents.strategy", cerr.Field)
	})

	t.Run("no agents", func(t *testing.T) {
		_, err := New(&classifierModel{}, config.MultiAgents{Strategy: config.StrategyParallel})
		var cerr *hanabi.ConfigurationError
		assert.ErrorAs(t, err, &cerr)
	})

	t.Run("routing agent without classification", func(t *testing.T) {
		cfg := config.MultiAgents{Strategy: config.StrategyRouting, Agents: []config.AgentDescriptor{{Name: "a"}}}
		_, err := New(&classifierModel{}, cfg)
		var cerr *hanabi.ConfigurationError
		assert.ErrorAs(t, err, &cerr)
	})
}

func TestDispatchRouting(t *testing.T) {
	t.Run("routes to the classified agent", func(t *testing.T) {
		model := &classifierModel{label: "math"}
		peer := &fakePeer{answers: map[string]string{"agentA": "4"}}
		d, err := New(model, routingConfig(false), WithPeer(peer))
		require.NoError(t, err)

		out, err := d.Dispatch(t.Context(), history("what is 2+2"))

		require.NoError(t, err)
		assert.False(t, out.Local)
		assert.Equal(t, "math", out.Label)
		assert.Equal(t, "4", out.Answer())
		assert.Equal(t, []string{"agentA"}, peer.agentsCalled())
		assert.Equal(t, []string{"math", "weather", NoClassification}, model.labels)
		require.Len(t, peer.calls[0].req.Messages, 1)
	})

	t.Run("forwards the full conversation", func(t *testing.T) {
		peer := &fakePeer{}
		d, err := New(&classifierModel{label: "weather"}, routingConfig(false), WithPeer(peer))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("hi", "hello", "rain in Tokyo?"))

		require.NoError(t, err)
		assert.Equal(t, []string{"agentB"}, peer.agentsCalled())
		assert.Len(t, peer.calls[0].req.Messages, 3)
	})

	t.Run("sentinel falls back locally", func(t *testing.T) {
		peer := &fakePeer{}
		d, err := New(&classifierModel{label: NoClassification}, routingConfig(false), WithPeer(peer))
		require.NoError(t, err)

		msgs := history("tell me a joke")
		out, err := d.Dispatch(t.Context(), msgs)

		require.NoError(t, err)
		assert.True(t, out.Local)
		assert.Empty(t, out.Messages)
		assert.Empty(t, peer.calls)
		assert.Len(t, msgs, 1)
	})

	t.Run("label outside the set falls back locally", func(t *testing.T) {
		peer := &fakePeer{}
		d, err := New(&classifierModel{label: "poetry"}, routingConfig(false), WithPeer(peer))
		require.NoError(t, err)

		out, err := d.Dispatch(t.Context(), history("write a haiku"))

		require.NoError(t, err)
		assert.True(t, out.Local)
		assert.Empty(t, peer.calls)
	})

	t.Run("force drops the sentinel", func(t *testing.T) {
		model := &classifierModel{label: "math"}
		d, err := New(model, routingConfig(true), WithPeer(&fakePeer{}))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("1+1"))

		require.NoError(t, err)
		assert.Equal(t, []string{"math", "weather"}, model.labels)
	})

	t.Run("plain text label is accepted", func(t *testing.T) {
		peer := &fakePeer{}
		d, err := New(&classifierModel{text: " weather\n"}, routingConfig(false), WithPeer(peer))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("sunny?"))

		require.NoError(t, err)
		assert.Equal(t, []string{"agentB"}, peer.agentsCalled())
	})

	t.Run("classification error fails the turn", func(t *testing.T) {
		d, err := New(&classifierModel{err: errors.New("model down")}, routingConfig(false), WithPeer(&fakePeer{}))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("x"))

		assert.ErrorContains(t, err, "model down")
	})

	t.Run("requires a trailing user message", func(t *testing.T) {
		d, err := New(&classifierModel{label: "math"}, routingConfig(false), WithPeer(&fakePeer{}))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("q", "a"))

		assert.Error(t, err)
	})

	t.Run("agent without apiUrl answers empty", func(t *testing.T) {
		for _, streamed := range []bool{false, true} {
			cfg := routingConfig(false)
			cfg.Agents[0].APIURL = ""
			d, err := New(&classifierModel{label: "math"}, cfg)
			require.NoError(t, err)

			var opts []TurnOption
			var types []event.Type
			if streamed {
				opts = append(opts, WithStream(func(e event.Event) error {
					types = append(types, e.Type)
					return nil
				}))
			}
			out, err := d.Dispatch(t.Context(), history("2+2"), opts...)

			require.NoError(t, err)
			require.Len(t, out.Messages, 1, "streamed=%v", streamed)
			assert.Equal(t, hanabi.RoleAssistant, out.Messages[0].Role)
			assert.Equal(t, "", out.Answer())
			if streamed {
				assert.Contains(t, types, event.MessageStart)
				assert.Contains(t, types, event.MessageEnd)
			}
		}
	})
}

func TestDispatchWorkflow(t *testing.T) {
	cfg := config.MultiAgents{
		Strategy: config.StrategyWorkflow,
		Agents: []config.AgentDescriptor{
			{Name: "agentA", APIURL: "http://a"},
			{Name: "agentB", APIURL: "http://b"},
		},
	}

	t.Run("chains answers", func(t *testing.T) {
		model := &classifierModel{label: "unused"}
		peer := &fakePeer{}
		d, err := New(model, cfg, WithPeer(peer))
		require.NoError(t, err)

		out, err := d.Dispatch(t.Context(), history("earlier", "reply", "draft a plan"))

		require.NoError(t, err)
		assert.Zero(t, model.calls)
		assert.Equal(t, []string{"agentA", "agentB"}, peer.agentsCalled())

		require.Len(t, peer.calls[0].req.Messages, 1)
		assert.Equal(t, "draft a plan", peer.calls[0].req.Messages[0].Text())
		assert.Equal(t, "agentA: draft a plan", peer.calls[1].req.Prompt)
		assert.Empty(t, peer.calls[1].req.Messages)
		assert.Equal(t, "agentB: agentA: draft a plan", out.Answer())
		assert.Equal(t, []string{"agentA", "agentB"}, out.Agents)
	})

	t.Run("a failing step fails the turn", func(t *testing.T) {
		peer := &fakePeer{errs: map[string]error{"agentA": errors.New("boom")}}
		d, err := New(&classifierModel{}, cfg, WithPeer(peer))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("go"))

		var aerr *AgentError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "agentA", aerr.Agent)
		assert.Equal(t, []string{"agentA"}, peer.agentsCalled())
	})

	t.Run("streams the last step", func(t *testing.T) {
		peer := &fakePeer{}
		d, err := New(&classifierModel{}, cfg, WithPeer(peer))
		require.NoError(t, err)

		var got []event.Event
		out, err := d.Dispatch(t.Context(), history("go"), WithStream(func(e event.Event) error {
			got = append(got, e)
			return nil
		}), WithAnswerSchema(true))

		require.NoError(t, err)
		assert.Equal(t, "agentB streamed", out.Answer())
		require.Len(t, peer.calls, 2)
		require.NotNil(t, peer.calls[1].chat)
		assert.True(t, peer.calls[1].chat.WithAnswerSchema)
		require.Len(t, peer.calls[1].chat.Messages, 1)
		assert.Equal(t, hanabi.RoleUser, peer.calls[1].chat.Messages[0].Role)
		assert.Equal(t, "agentA: go", peer.calls[1].chat.Messages[0].Text())

		var types []event.Type
		for _, e := range got {
			assert.NotEqual(t, event.RunStart, e.Type)
			assert.NotEqual(t, event.RunEnd, e.Type)
			types = append(types, e.Type)
		}
		assert.Contains(t, types, event.MessageDelta)
		assert.Contains(t, types, event.StepStart)
	})
}

func TestDispatchParallel(t *testing.T) {
	cfg := config.MultiAgents{
		Strategy: config.StrategyParallel,
		Agents: []config.AgentDescriptor{
			{Name: "agentA", APIURL: "http://a"},
			{Name: "agentB", APIURL: "http://b"},
			{Name: "agentC", APIURL: "http://c"},
		},
	}

	t.Run("joins answers in configuration order", func(t *testing.T) {
		peer := &fakePeer{
			answers: map[string]string{"agentA": "slow", "agentB": "fast", "agentC": "medium"},
			delays:  map[string]time.Duration{"agentA": 30 * time.Millisecond, "agentC": 10 * time.Millisecond},
		}
		model := &classifierModel{label: LabelTask}
		d, err := New(model, cfg, WithPeer(peer))
		require.NoError(t, err)

		out, err := d.Dispatch(t.Context(), history("old", "ans", "compare these"))

		require.NoError(t, err)
		assert.Equal(t, []string{LabelTask, LabelFollowUp}, model.labels)
		assert.Equal(t, "### agentA\nslow\n\n### agentB\nfast\n\n### agentC\nmedium", out.Answer())
		assert.Len(t, peer.calls, 3)
		for _, c := range peer.calls {
			require.Len(t, c.req.Messages, 1)
			assert.Equal(t, "compare these", c.req.Messages[0].Text())
		}
	})

	t.Run("follow-up falls back locally", func(t *testing.T) {
		peer := &fakePeer{}
		d, err := New(&classifierModel{label: LabelFollowUp}, cfg, WithPeer(peer))
		require.NoError(t, err)

		out, err := d.Dispatch(t.Context(), history("and then?"))

		require.NoError(t, err)
		assert.True(t, out.Local)
		assert.Equal(t, LabelFollowUp, out.Label)
		assert.Empty(t, peer.calls)
	})

	t.Run("a failing branch fails the turn", func(t *testing.T) {
		peer := &fakePeer{errs: map[string]error{"agentB": errors.New("unreachable")}}
		d, err := New(&classifierModel{label: LabelTask}, cfg, WithPeer(peer))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("go"))

		var aerr *AgentError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "agentB", aerr.Agent)
	})

	t.Run("replays the combined answer to the stream", func(t *testing.T) {
		peer := &fakePeer{answers: map[string]string{"agentA": "a", "agentB": "b", "agentC": "c"}}
		d, err := New(&classifierModel{label: LabelTask}, cfg, WithPeer(peer))
		require.NoError(t, err)

		var deltas []string
		_, err = d.Dispatch(t.Context(), history("go"), WithStream(func(e event.Event) error {
			if e.Type == event.MessageDelta {
				deltas = append(deltas, e.Delta)
			}
			return nil
		}))

		require.NoError(t, err)
		assert.Equal(t, []string{"### agentA\na\n\n### agentB\nb\n\n### agentC\nc"}, deltas)
	})
}

func TestDispatchTransitions(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.MultiAgents
		label string
		want  []State
	}{
		{
			name:  "routing dispatch",
			cfg:   routingConfig(false),
			label: "math",
			want:  []State{StateClassifying, StateDispatching, StateCompleted},
		},
		{
			name:  "routing fallback",
			cfg:   routingConfig(false),
			label: NoClassification,
			want:  []State{StateClassifying, StateLocalFallback, StateCompleted},
		},
		{
			name:  "workflow",
			cfg:   config.MultiAgents{Strategy: config.StrategyWorkflow, Agents: []config.AgentDescriptor{{Name: "a"}}},
			label: "",
			want:  []State{StateDispatching, StateCompleted},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []State
			from := StateIdle
			d, err := New(&classifierModel{label: tt.label}, tt.cfg, WithPeer(&fakePeer{}),
				WithOnTransition(func(f, to State) {
					assert.Equal(t, from, f)
					assert.True(t, CanTransition(f, to))
					from = to
					got = append(got, to)
				}))
			require.NoError(t, err)

			_, err = d.Dispatch(t.Context(), history("x"))

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("failure still completes", func(t *testing.T) {
		var last State
		d, err := New(&classifierModel{err: errors.New("down")}, routingConfig(false), WithPeer(&fakePeer{}),
			WithOnTransition(func(_, to State) { last = to }))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("x"))

		assert.Error(t, err)
		assert.Equal(t, StateCompleted, last)
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateClassifying))
	assert.True(t, CanTransition(StateIdle, StateDispatching))
	assert.True(t, CanTransition(StateClassifying, StateLocalFallback))
	assert.True(t, CanTransition(StateClassifying, StateCompleted))
	assert.False(t, CanTransition(StateIdle, StateLocalFallback))
	assert.False(t, CanTransition(StateDispatching, StateClassifying))
	assert.False(t, CanTransition(StateCompleted, StateCompleted))
}

func TestDispatchWithRemoteClient(t *testing.T) {
	t.Run("missing apiUrl contributes an empty answer", func(t *testing.T) {
		cfg := config.MultiAgents{
			Strategy: config.StrategyWorkflow,
			Agents:   []config.AgentDescriptor{{Name: "ghost"}},
		}
		d, err := New(&classifierModel{}, cfg)
		require.NoError(t, err)

		out, err := d.Dispatch(t.Context(), history("x"))

		require.NoError(t, err)
		assert.Equal(t, "", out.Answer())
	})

	t.Run("routes over HTTP", func(t *testing.T) {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			assert.Equal(t, "/api/generate", r.URL.Path)
			w.Write([]byte(`{"answer":"from peer"}`))
		}))
		defer srv.Close()

		cfg := routingConfig(false)
		cfg.Agents[0].APIURL = srv.URL + "/api"
		d, err := New(&classifierModel{label: "math"}, cfg, WithPeer(remote.NewClient(remote.WithRetry(0, time.Millisecond))))
		require.NoError(t, err)

		out, err := d.Dispatch(t.Context(), history("2+2"))

		require.NoError(t, err)
		assert.Equal(t, "from peer", out.Answer())
		assert.Equal(t, 1, hits)
	})

	t.Run("unreachable agent fails the turn", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		cfg := routingConfig(false)
		cfg.Agents[0].APIURL = url
		d, err := New(&classifierModel{label: "math"}, cfg, WithPeer(remote.NewClient(remote.WithRetry(0, time.Millisecond))))
		require.NoError(t, err)

		_, err = d.Dispatch(t.Context(), history("2+2"))

		var terr *hanabi.TransportError
		assert.ErrorAs(t, err, &terr)
	})
}
