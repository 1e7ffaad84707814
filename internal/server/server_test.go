package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/remote"
	"github.com/spetersoncode/hanabi/tool"
	"github.com/spetersoncode/hanabi/workflow"
)

// scriptedModel answers each call with the next response, then "done".
type scriptedModel struct {
	mu        sync.Mutex
	responses []*hanabi.Response
	calls     int
}

func (m *scriptedModel) next() *hanabi.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls > len(m.responses) {
		return &hanabi.Response{Content: "done"}
	}
	return m.responses[m.calls-1]
}

func (m *scriptedModel) Chat(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (*hanabi.Response, error) {
	return m.next(), nil
}

func (m *scriptedModel) ChatStream(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (<-chan hanabi.StreamEvent, error) {
	resp := m.next()
	ch := make(chan hanabi.StreamEvent, 2)
	if resp.Content != "" {
		ch <- hanabi.StreamEvent{Delta: resp.Content}
	}
	ch <- hanabi.StreamEvent{Done: true, Response: resp}
	close(ch)
	return ch, nil
}

type recordingTools struct {
	mu   sync.Mutex
	keys [][]string
}

func (r *recordingTools) GetTools(ctx context.Context, keys []string) (*tool.Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys)
	return tool.NewSet(), nil
}

type fakePeer struct{ answer string }

func (p *fakePeer) Generate(ctx context.Context, a config.AgentDescriptor, req remote.GenerateRequest) (string, error) {
	return p.answer, nil
}

func (p *fakePeer) Chat(ctx context.Context, a config.AgentDescriptor, req remote.ChatRequest, fn func(event.Event) error) ([]hanabi.Message, error) {
	msg := hanabi.NewAssistantMessage(p.answer)
	if fn != nil {
		fn(event.Event{Type: event.MessageDelta, Delta: p.answer})
	}
	return []hanabi.Message{msg}, nil
}

func baseConfig() *config.Config {
	return &config.Config{
		LLMs:         []config.LLM{{Provider: hanabi.ProviderOllama}},
		DefaultModel: &config.DefaultModel{Provider: hanabi.ProviderOllama, Model: "llama3"},
		Serve:        &config.Serve{Port: 4000, MCPKeys: []string{"weather"}},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, model hanabi.ChatProvider, opts ...Option) (*Server, *httptest.Server, *recordingTools) {
	t.Helper()
	tools := &recordingTools{}
	opts = append([]Option{
		WithWorkDir(t.TempDir()),
		WithModelFactory(func(ctx context.Context, cfg *config.Config) (hanabi.ChatProvider, error) {
			if cfg.DefaultModel == nil {
				return nil, hanabi.ErrNoDefaultModel
			}
			return model, nil
		}),
	}, opts...)
	s := New(cfg, tools, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts, tools
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t, baseConfig(), &scriptedModel{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, resp)["status"])
}

func TestConfigAndModel(t *testing.T) {
	s, ts, _ := newTestServer(t, baseConfig(), &scriptedModel{})

	resp, err := http.Get(ts.URL + "/api/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := decode(t, resp)
	assert.EqualValues(t, 4000, body["port"])
	assert.Equal(t, []any{"weather"}, body["mcpKeys"])
	assert.Equal(t, "llama3", body["defaultModel"].(map[string]any)["model"])

	next := baseConfig()
	next.DefaultModel.Model = "qwen3"
	s.SetConfig(next)

	resp, err = http.Get(ts.URL + "/api/model")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "qwen3", decode(t, resp)["defaultModel"].(map[string]any)["model"])
}

func TestGenerate(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "Paris"}}}
	_, ts, tools := newTestServer(t, baseConfig(), model)

	resp := postJSON(t, ts.URL+"/api/generate", `{"prompt":"capital of France?"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Paris", decode(t, resp)["answer"])
	require.Len(t, tools.keys, 1)
	assert.Equal(t, []string{"weather"}, tools.keys[0])
}

func TestGenerate_Messages(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "fine"}}}
	_, ts, _ := newTestServer(t, baseConfig(), model)

	resp := postJSON(t, ts.URL+"/api/generate",
		`{"messages":[{"role":"user","content":"how are you?"}]}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fine", decode(t, resp)["answer"])
}

func TestGenerate_AnswerSchema(t *testing.T) {
	cfg := baseConfig()
	cfg.AnswerSchema = json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)
	model := &scriptedModel{responses: []*hanabi.Response{{
		ToolCalls: []hanabi.ToolCall{{ID: "c1", Name: tool.FormatAnswerName, Arguments: `{"city":"Paris"}`}},
	}}}
	_, ts, _ := newTestServer(t, cfg, model)

	resp := postJSON(t, ts.URL+"/api/generate", `{"prompt":"capital of France?"}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "Paris", decode(t, resp)["city"])
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		cfg    func() *config.Config
		body   string
		status int
		msg    string
	}{
		{"invalid body", baseConfig, `{`, http.StatusBadRequest, "invalid request body"},
		{"empty request", baseConfig, `{}`, http.StatusBadRequest, "prompt or messages is required"},
		{"no default model", func() *config.Config {
			cfg := baseConfig()
			cfg.DefaultModel = nil
			return cfg
		}, `{"prompt":"hi"}`, http.StatusBadRequest, "No default model found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts, _ := newTestServer(t, tt.cfg(), &scriptedModel{})

			resp := postJSON(t, ts.URL+"/api/generate", tt.body)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, decode(t, resp)["error"], tt.msg)
		})
	}
}

func TestGenerate_IgnoresMultiAgents(t *testing.T) {
	cfg := baseConfig()
	cfg.MultiAgents = &config.MultiAgents{
		Strategy: config.StrategyRouting,
		Agents:   []config.AgentDescriptor{{Name: "billing", APIURL: "http://unused", Classification: "billing"}},
	}
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "local"}}}
	_, ts, _ := newTestServer(t, cfg, model, WithDispatcherOptions(workflow.WithPeer(&fakePeer{answer: "remote"})))

	resp := postJSON(t, ts.URL+"/api/generate", `{"prompt":"hi"}`)

	assert.Equal(t, "local", decode(t, resp)["answer"])
	assert.Equal(t, 1, model.calls)
}

func TestChat_NoModel(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultModel = nil
	_, ts, _ := newTestServer(t, cfg, &scriptedModel{})

	resp := postJSON(t, ts.URL+"/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestChat_NoUserMessage(t *testing.T) {
	_, ts, _ := newTestServer(t, baseConfig(), &scriptedModel{})

	resp := postJSON(t, ts.URL+"/api/chat", `{"messages":[]}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat_Stream(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "hello there"}}}
	_, ts, _ := newTestServer(t, baseConfig(), model)

	resp := postJSON(t, ts.URL+"/api/chat", `{"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(data)
	assert.Equal(t, 1, strings.Count(out, `"RUN_STARTED"`))
	assert.Equal(t, 1, strings.Count(out, `"RUN_FINISHED"`))
	assert.Contains(t, out, "MESSAGES_SNAPSHOT")
	assert.Contains(t, out, "hello there")
	assert.Less(t, strings.Index(out, "RUN_STARTED"), strings.Index(out, "TEXT_MESSAGE_CONTENT"))
	assert.Less(t, strings.Index(out, "MESSAGES_SNAPSHOT"), strings.Index(out, "RUN_FINISHED"))
}

// A hanabi server is a valid peer for the remote client.
func TestRemoteRoundTrip(t *testing.T) {
	model := &scriptedModel{responses: []*hanabi.Response{
		{Content: "generated"},
		{Content: "streamed"},
	}}
	_, ts, _ := newTestServer(t, baseConfig(), model)
	peer := config.AgentDescriptor{Name: "self", APIURL: ts.URL + "/api"}
	client := remote.NewClient(remote.WithRetry(0, time.Millisecond))
	ctx := context.Background()

	answer, err := client.Generate(ctx, peer, remote.GenerateRequest{Prompt: "one"})
	require.NoError(t, err)
	assert.Equal(t, "generated", answer)

	var deltas strings.Builder
	messages, err := client.Chat(ctx, peer, remote.ChatRequest{
		Messages: []hanabi.Message{hanabi.NewUserMessage("two")},
	}, func(e event.Event) error {
		if e.Type == event.MessageDelta {
			deltas.WriteString(e.Delta)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "streamed", deltas.String())
	require.NotEmpty(t, messages)
	assert.Equal(t, "streamed", messages[len(messages)-1].Text())
}

func TestChat_Delegated(t *testing.T) {
	cfg := baseConfig()
	cfg.MultiAgents = &config.MultiAgents{
		Strategy: config.StrategyRouting,
		Agents:   []config.AgentDescriptor{{Name: "billing", APIURL: "http://unused", Classification: "billing"}},
	}
	model := &scriptedModel{responses: []*hanabi.Response{{Content: "billing"}}}
	_, ts, _ := newTestServer(t, cfg, model, WithDispatcherOptions(workflow.WithPeer(&fakePeer{answer: "paid"})))

	resp := postJSON(t, ts.URL+"/api/chat", `{"messages":[{"role":"user","content":"invoice?"}]}`)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(data)
	assert.Equal(t, 1, strings.Count(out, `"RUN_STARTED"`))
	assert.Contains(t, out, "paid")
	assert.Contains(t, out, "RUN_FINISHED")
}

func TestServe_Shutdown(t *testing.T) {
	s := New(baseConfig(), nil, WithWorkDir(t.TempDir()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
