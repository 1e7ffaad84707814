// Package repl is the terminal chat: a line-oriented loop whose input mode
// decides whether a line is a prompt, a chat handle or a picker answer.
package repl

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/agent"
	"github.com/spetersoncode/hanabi/chat"
	"github.com/spetersoncode/hanabi/client"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/model"
)

// ModelFactory builds the chat model for a configuration.
type ModelFactory func(ctx context.Context, cfg *config.Config) (hanabi.ChatProvider, error)

// ModelLister lists the models an LLM entry serves.
type ModelLister func(ctx context.Context, llm config.LLM) ([]string, error)

// ToolRegistry is the MCP registry as the chat sees it.
type ToolRegistry interface {
	chat.ToolSource
	Keys() []string
}

// REPL holds one terminal chat.
type REPL struct {
	paths      config.Paths
	cfg        *config.Config
	tools      ToolRegistry
	newModel   ModelFactory
	listModels ModelLister
	workDir    string
	out        *renderer
	log        zerolog.Logger

	runner  *chat.Runner
	model   string
	session *agent.Session
	history []hanabi.Message
	mode    Mode
	choices []string
	mcpKeys []string
	files   []string
}

// Option configures a REPL.
type Option func(*REPL)

// WithModelFactory replaces client.FromConfig.
func WithModelFactory(f ModelFactory) Option {
	return func(r *REPL) { r.newModel = f }
}

// WithModelLister replaces client.ListModels.
func WithModelLister(l ModelLister) Option {
	return func(r *REPL) { r.listModels = l }
}

// WithOutput sets where the chat is rendered. Redrawing of streamed output
// is enabled when w is a terminal.
func WithOutput(w io.Writer) Option {
	return func(r *REPL) {
		tty := false
		if f, ok := w.(*os.File); ok {
			tty = isatty.IsTerminal(f.Fd())
		}
		r.out = newRenderer(w, tty)
	}
}

// WithWorkDir sets the directory of the file picker and the shell tool.
func WithWorkDir(dir string) Option {
	return func(r *REPL) { r.workDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *REPL) { r.log = l }
}

// New creates a REPL over a loaded configuration. tools may be nil.
func New(paths config.Paths, cfg *config.Config, tools ToolRegistry, opts ...Option) *REPL {
	r := &REPL{
		paths:   paths,
		cfg:     cfg,
		tools:   tools,
		workDir: config.WorkDir(),
		log:     logging.Component("repl"),
		session: agent.NewSession(),
		newModel: func(ctx context.Context, cfg *config.Config) (hanabi.ChatProvider, error) {
			return client.FromConfig(ctx, cfg)
		},
		listModels: func(ctx context.Context, llm config.LLM) ([]string, error) {
			return client.ListModels(ctx, llm)
		},
	}
	WithOutput(os.Stdout)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mode returns the current input mode.
func (r *REPL) Mode() Mode { return r.mode }

// History returns the conversation so far.
func (r *REPL) History() []hanabi.Message { return r.history }

// Run reads lines from in until /exit or end of input.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	if err := r.loadModel(ctx); err != nil && !errors.Is(err, hanabi.ErrNoDefaultModel) {
		r.out.errorf("%v", err)
	}
	r.out.banner(r.model)
	if r.runner == nil {
		r.out.info("no default model configured, pick one")
		r.startModelPicker(ctx, "")
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		r.out.promptFor(r.mode)
		if !sc.Scan() {
			return sc.Err()
		}
		if r.Handle(ctx, sc.Text()) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Handle processes one input line in the current mode. It reports whether
// the chat should end.
func (r *REPL) Handle(ctx context.Context, line string) bool {
	switch r.mode {
	case ModePickingFile:
		r.pickFiles(line)
	case ModePickingMcp:
		r.pickServers(line)
	case ModePickingModel:
		r.pickModel(ctx, line)
	default:
		return r.normal(ctx, line)
	}
	return false
}

func (r *REPL) normal(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	if text == "" {
		return false
	}
	handle, rest, _ := strings.Cut(text, " ")
	switch handle {
	case "/exit":
		return true
	case "/reset":
		r.history = nil
		r.files = nil
		r.session = agent.NewSession()
		r.out.info("chat reset")
	case "/copy":
		if last := r.lastAnswer(); last != "" {
			r.out.answer(last)
		} else {
			r.out.info("no assistant message yet")
		}
	case "/help":
		r.out.help()
	case "/llm":
		r.startModelPicker(ctx, rest)
	case "@file":
		r.startFilePicker(rest)
	case "@mcp":
		r.startServerPicker()
	default:
		r.send(ctx, text)
	}
	return false
}

func (r *REPL) lastAnswer() string {
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].Role == hanabi.RoleAssistant {
			if text := r.history[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

// loadModel builds the model and the turn runner for the current
// configuration.
func (r *REPL) loadModel(ctx context.Context) error {
	m, err := r.newModel(ctx, r.cfg)
	if err != nil {
		r.runner, r.model = nil, ""
		return err
	}
	var tools chat.ToolSource
	if r.tools != nil {
		tools = r.tools
	}
	r.runner = chat.NewRunner(r.cfg, m, tools, chat.WithWorkDir(r.workDir), chat.WithLogger(r.log))
	r.model = r.cfg.DefaultModel.Provider.String() + "/" + r.cfg.DefaultModel.Model
	return nil
}

func (r *REPL) send(ctx context.Context, text string) {
	if r.runner == nil {
		r.out.errorf("no model: use /llm to pick one")
		return
	}
	msg, err := userMessage(text, r.workDir, r.files)
	if err != nil {
		r.out.errorf("%v", err)
		return
	}
	r.files = nil
	r.history = append(r.history, msg)
	for _, key := range r.mcpKeys {
		r.out.info("@mcp: %s", key)
	}
	if ma := r.cfg.MultiAgents; ma != nil && len(ma.Agents) > 0 {
		r.out.progress("multi-agent strategy: %s", ma.Strategy)
	}

	view := r.out.startTurn()
	reply, err := r.runner.Turn(ctx, r.session, chat.Request{
		Messages:  r.history,
		MCPKeys:   r.mcpKeys,
		Streaming: r.cfg.StreamingEnabled(),
		Stream:    view.handle,
	})
	var answer string
	if reply != nil {
		answer = reply.Answer()
		r.history = append(r.history, reply.Messages...)
	}
	view.finish(answer)
	if err != nil {
		r.out.errorf("%v", err)
		return
	}
	if m, ok := model.Lookup(r.cfg.DefaultModel.Model); ok && !reply.Delegated() {
		u := reply.Usage()
		r.out.info("%d in / %d out tokens, ~$%.4f", u.PromptTokens, u.CompletionTokens, m.Cost(u))
	}
}

// Ask runs a single non-streamed turn and returns the answer.
func (r *REPL) Ask(ctx context.Context, question string) (string, error) {
	if err := r.loadModel(ctx); err != nil {
		return "", err
	}
	reply, err := r.runner.Turn(ctx, r.session, chat.Request{
		Messages: []hanabi.Message{hanabi.NewUserMessage(question)},
	})
	if err != nil {
		return "", err
	}
	return reply.Answer(), nil
}

func (r *REPL) startFilePicker(term string) {
	files, err := listFiles(r.workDir, r.cfg.Exclude)
	if err != nil {
		r.out.errorf("cannot list files: %v", err)
		return
	}
	r.choices = filter(files, term)
	if len(r.choices) == 0 {
		r.out.info("no files match")
		return
	}
	r.out.choices(r.choices, r.files, true)
	r.mode = ModePickingFile
}

func (r *REPL) pickFiles(line string) {
	defer r.endPicking()
	picked, unknown := pick(line, r.choices, true)
	r.reportUnknown(unknown)
	if len(picked) == 0 {
		return
	}
	r.files = picked
	r.out.info("attached: %s", strings.Join(picked, ", "))
}

func (r *REPL) startServerPicker() {
	if r.tools == nil || len(r.tools.Keys()) == 0 {
		r.out.info("no MCP servers configured")
		return
	}
	r.choices = r.tools.Keys()
	r.out.choices(r.choices, r.mcpKeys, false)
	r.mode = ModePickingMcp
}

func (r *REPL) pickServers(line string) {
	defer r.endPicking()
	picked, unknown := pick(line, r.choices, false)
	r.reportUnknown(unknown)
	if len(picked) == 0 {
		return
	}
	r.mcpKeys = picked
	r.out.info("using MCP: %s", strings.Join(picked, ", "))
}

func (r *REPL) startModelPicker(ctx context.Context, term string) {
	var choices []string
	for _, llm := range r.cfg.LLMs {
		ids, err := r.listModels(ctx, llm)
		if err != nil {
			r.out.errorf("%s: %v", llm.Provider, err)
			continue
		}
		for _, id := range ids {
			choices = append(choices, llm.Provider.String()+"/"+id)
		}
	}
	r.choices = filter(choices, term)
	if len(r.choices) == 0 {
		r.out.info("no models available, add an llm to %s", config.FileName)
		return
	}
	var current []string
	if r.model != "" {
		current = []string{r.model}
	}
	r.out.choices(r.choices, current, false)
	r.mode = ModePickingModel
}

func (r *REPL) pickModel(ctx context.Context, line string) {
	defer r.endPicking()
	picked, unknown := pick(line, r.choices, false)
	r.reportUnknown(unknown)
	if len(picked) == 0 {
		return
	}
	provider, id, _ := strings.Cut(picked[0], "/")
	dm := &config.DefaultModel{Provider: hanabi.Provider(provider), Model: id}
	if err := r.paths.Write(&config.Config{DefaultModel: dm}); err != nil {
		r.out.errorf("cannot save default model: %v", err)
		return
	}
	if cfg, err := r.paths.Load(); err == nil {
		r.cfg = cfg
	} else {
		r.log.Warn().Err(err).Msg("config reload failed")
		r.cfg.DefaultModel = dm
	}
	if err := r.loadModel(ctx); err != nil {
		r.out.errorf("%v", err)
		return
	}
	r.out.info("model: %s", r.model)
}

func (r *REPL) reportUnknown(unknown []string) {
	if len(unknown) > 0 {
		r.out.errorf("unknown choice: %s", strings.Join(unknown, ", "))
	}
}

func (r *REPL) endPicking() {
	r.mode = ModeNormal
	r.choices = nil
}
