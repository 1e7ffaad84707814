package repl

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/tool"
)

// echoModel answers every call with "echo: <last user text>".
type echoModel struct {
	mu   sync.Mutex
	seen [][]hanabi.Message
}

func (m *echoModel) reply(messages []hanabi.Message) *hanabi.Response {
	m.mu.Lock()
	m.seen = append(m.seen, messages)
	m.mu.Unlock()
	last, _ := hanabi.LastUserMessage(messages)
	return &hanabi.Response{Content: "echo: " + last.Text(), Usage: hanabi.NewUsage(10, 5)}
}

func (m *echoModel) Chat(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (*hanabi.Response, error) {
	return m.reply(messages), nil
}

func (m *echoModel) ChatStream(ctx context.Context, messages []hanabi.Message, opts ...hanabi.Option) (<-chan hanabi.StreamEvent, error) {
	resp := m.reply(messages)
	ch := make(chan hanabi.StreamEvent, 3)
	ch <- hanabi.StreamEvent{Delta: "echo: "}
	ch <- hanabi.StreamEvent{Delta: strings.TrimPrefix(resp.Content, "echo: ")}
	ch <- hanabi.StreamEvent{Done: true, Response: resp}
	close(ch)
	return ch, nil
}

type fakeRegistry struct {
	keys      []string
	requested [][]string
}

func (f *fakeRegistry) Keys() []string { return f.keys }

func (f *fakeRegistry) GetTools(ctx context.Context, keys []string) (*tool.Set, error) {
	f.requested = append(f.requested, keys)
	return tool.NewSet(), nil
}

type harness struct {
	repl  *REPL
	out   *bytes.Buffer
	model *echoModel
	tools *fakeRegistry
	paths config.Paths
	dir   string
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		out:   &bytes.Buffer{},
		model: &echoModel{},
		tools: &fakeRegistry{keys: []string{"file-system", "weather"}},
		paths: config.Paths{Local: filepath.Join(dir, config.FileName)},
		dir:   dir,
	}
	h.repl = New(h.paths, cfg, h.tools,
		WithOutput(h.out),
		WithWorkDir(dir),
		WithModelFactory(func(ctx context.Context, cfg *config.Config) (hanabi.ChatProvider, error) {
			if cfg.DefaultModel == nil {
				return nil, hanabi.ErrNoDefaultModel
			}
			return h.model, nil
		}),
		WithModelLister(func(ctx context.Context, llm config.LLM) ([]string, error) {
			switch llm.Provider {
			case hanabi.ProviderOllama:
				return []string{"llama3", "qwen3"}, nil
			case hanabi.ProviderGroq:
				return nil, errors.New("unauthorized")
			}
			return nil, nil
		}),
	)
	return h
}

func configured() *config.Config {
	return &config.Config{
		LLMs:         []config.LLM{{Provider: hanabi.ProviderOllama}, {Provider: hanabi.ProviderGroq}},
		DefaultModel: &config.DefaultModel{Provider: hanabi.ProviderOllama, Model: "llama3"},
	}
}

func TestRun_ChatAndExit(t *testing.T) {
	h := newHarness(t, configured())

	err := h.repl.Run(context.Background(), strings.NewReader("hello\n/copy\n/exit\nnever\n"))

	require.NoError(t, err)
	out := h.out.String()
	assert.Contains(t, out, "model: Ollama/llama3")
	assert.Equal(t, 2, strings.Count(out, "echo: hello"))
	assert.NotContains(t, out, "never")

	history := h.repl.History()
	require.Len(t, history, 2)
	assert.Equal(t, hanabi.RoleUser, history[0].Role)
	assert.Equal(t, "echo: hello", history[1].Text())
}

func TestRun_EndOfInput(t *testing.T) {
	h := newHarness(t, configured())
	assert.NoError(t, h.repl.Run(context.Background(), strings.NewReader("")))
}

func TestHandle_HistoryCarriesOver(t *testing.T) {
	h := newHarness(t, configured())
	ctx := context.Background()
	require.NoError(t, h.repl.loadModel(ctx))

	h.repl.Handle(ctx, "one")
	h.repl.Handle(ctx, "two")

	require.Len(t, h.model.seen, 2)
	second := h.model.seen[1]
	var users []string
	for _, m := range second {
		if m.Role == hanabi.RoleUser {
			users = append(users, m.Text())
		}
	}
	assert.Equal(t, []string{"one", "two"}, users)

	h.repl.Handle(ctx, "/reset")
	assert.Empty(t, h.repl.History())
	assert.Contains(t, h.out.String(), "chat reset")
}

func TestHandle_Help(t *testing.T) {
	h := newHarness(t, configured())
	h.repl.Handle(context.Background(), "/help")
	for _, handle := range config.ChatHandles {
		assert.Contains(t, h.out.String(), handle[0])
	}
}

func TestHandle_McpPicker(t *testing.T) {
	h := newHarness(t, configured())
	ctx := context.Background()
	require.NoError(t, h.repl.loadModel(ctx))

	h.repl.Handle(ctx, "@mcp")
	assert.Equal(t, ModePickingMcp, h.repl.Mode())
	assert.Contains(t, h.out.String(), "weather")

	h.repl.Handle(ctx, "2")
	assert.Equal(t, ModeNormal, h.repl.Mode())

	h.repl.Handle(ctx, "what's the weather?")
	require.NotEmpty(t, h.tools.requested)
	assert.Equal(t, []string{"weather"}, h.tools.requested[0])
	assert.Contains(t, h.out.String(), "@mcp: weather")
}

func TestHandle_PickerCancel(t *testing.T) {
	h := newHarness(t, configured())
	ctx := context.Background()

	h.repl.Handle(ctx, "@mcp")
	require.Equal(t, ModePickingMcp, h.repl.Mode())
	h.repl.Handle(ctx, "")
	assert.Equal(t, ModeNormal, h.repl.Mode())
	assert.Empty(t, h.repl.mcpKeys)
}

func TestHandle_FilePicker(t *testing.T) {
	h := newHarness(t, configured())
	ctx := context.Background()
	require.NoError(t, h.repl.loadModel(ctx))
	writeFiles(t, h.dir, "a.txt", "b.txt", "src/main.go")

	h.repl.Handle(ctx, "@file txt")
	require.Equal(t, ModePickingFile, h.repl.Mode())
	assert.Equal(t, []string{"a.txt", "b.txt"}, h.repl.choices)

	h.repl.Handle(ctx, "*.txt")
	assert.Equal(t, ModeNormal, h.repl.Mode())
	assert.Equal(t, []string{"a.txt", "b.txt"}, h.repl.files)

	h.repl.Handle(ctx, "summarize")
	assert.Empty(t, h.repl.files)
	first := h.repl.History()[0]
	assert.Equal(t, "summarize\n< a.txt >\n< b.txt >", first.Text())
	assert.Len(t, first.Parts, 3)
}

func TestHandle_ModelPicker(t *testing.T) {
	h := newHarness(t, configured())
	ctx := context.Background()
	require.NoError(t, h.repl.loadModel(ctx))

	h.repl.Handle(ctx, "/llm")
	require.Equal(t, ModePickingModel, h.repl.Mode())
	assert.Equal(t, []string{"Ollama/llama3", "Ollama/qwen3"}, h.repl.choices)
	assert.Contains(t, h.out.String(), "unauthorized")

	h.repl.Handle(ctx, "Ollama/qwen3")
	assert.Equal(t, ModeNormal, h.repl.Mode())
	assert.Equal(t, "Ollama/qwen3", h.repl.model)

	saved, err := h.paths.Load()
	require.NoError(t, err)
	require.NotNil(t, saved.DefaultModel)
	assert.Equal(t, "qwen3", saved.DefaultModel.Model)
	assert.Equal(t, hanabi.ProviderOllama, saved.DefaultModel.Provider)
}

func TestRun_WithoutDefaultModel(t *testing.T) {
	cfg := configured()
	cfg.DefaultModel = nil
	h := newHarness(t, cfg)
	ctx := context.Background()

	require.NoError(t, h.repl.Run(ctx, strings.NewReader("1\nhi\n")))

	assert.Contains(t, h.out.String(), "no default model configured")
	assert.Equal(t, "Ollama/llama3", h.repl.model)
	_, err := os.Stat(h.paths.Local)
	assert.NoError(t, err)
	assert.Equal(t, "echo: hi", h.repl.lastAnswer())
}

func TestHandle_NoModel(t *testing.T) {
	cfg := configured()
	cfg.DefaultModel = nil
	h := newHarness(t, cfg)

	h.repl.Handle(context.Background(), "hello")
	assert.Contains(t, h.out.String(), "use /llm")
	assert.Empty(t, h.repl.History())
}

func TestAsk(t *testing.T) {
	h := newHarness(t, configured())

	answer, err := h.repl.Ask(context.Background(), "ping")

	require.NoError(t, err)
	assert.Equal(t, "echo: ping", answer)
	assert.Empty(t, h.tools.requested)
}

func TestAsk_NoModel(t *testing.T) {
	cfg := configured()
	cfg.DefaultModel = nil
	h := newHarness(t, cfg)

	_, err := h.repl.Ask(context.Background(), "ping")
	assert.ErrorIs(t, err, hanabi.ErrNoDefaultModel)
}
