package repl

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/spetersoncode/hanabi/agent"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/event"
	"github.com/spetersoncode/hanabi/workflow"
)

type renderer struct {
	w io.Writer
	// redraw erases the streamed region after a turn and prints the final
	// answer in its place. Only sensible on a terminal.
	redraw bool

	prompt    *color.Color
	assistant *color.Color
	muted     *color.Color
	accent    *color.Color
	tool      *color.Color
	failure   *color.Color
}

func newRenderer(w io.Writer, redraw bool) *renderer {
	return &renderer{
		w:         w,
		redraw:    redraw,
		prompt:    color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgGreen),
		muted:     color.New(color.FgHiBlack),
		accent:    color.New(color.FgMagenta),
		tool:      color.New(color.FgYellow),
		failure:   color.New(color.FgRed),
	}
}

func (r *renderer) banner(model string) {
	r.accent.Fprintln(r.w, "⟡ hanabi")
	if model != "" {
		r.muted.Fprintf(r.w, "model: %s\n", model)
	}
	r.muted.Fprintln(r.w, "type /help for commands")
}

func (r *renderer) promptFor(m Mode) {
	switch m {
	case ModePickingFile:
		r.prompt.Fprint(r.w, "files> ")
	case ModePickingMcp:
		r.prompt.Fprint(r.w, "mcp> ")
	case ModePickingModel:
		r.prompt.Fprint(r.w, "llm> ")
	default:
		r.prompt.Fprint(r.w, "> ")
	}
}

func (r *renderer) help() {
	for _, h := range config.ChatHandles {
		fmt.Fprintf(r.w, "%s %s\n", r.prompt.Sprintf("%-7s", h[0]), r.muted.Sprint(h[1]))
	}
}

func (r *renderer) info(format string, args ...any) {
	r.muted.Fprintf(r.w, format+"\n", args...)
}

func (r *renderer) progress(format string, args ...any) {
	r.accent.Fprintf(r.w, "⟡ "+format+"\n", args...)
}

func (r *renderer) errorf(format string, args ...any) {
	r.failure.Fprintf(r.w, format+"\n", args...)
}

func (r *renderer) answer(text string) {
	r.assistant.Fprintln(r.w, strings.TrimRight(text, "\n"))
}

// choices prints a numbered list followed by picker instructions.
func (r *renderer) choices(items []string, selected []string, globs bool) {
	for i, item := range items {
		mark := " "
		for _, s := range selected {
			if s == item {
				mark = "*"
			}
		}
		fmt.Fprintf(r.w, "%s %s %s\n", r.muted.Sprintf("%3d", i+1), mark, item)
	}
	hint := "pick by number or name, comma separated; empty line cancels"
	if globs {
		hint = "pick by number, path or glob, comma separated; empty line cancels"
	}
	r.info(hint)
}

// turnView renders the events of one streamed turn and tracks how many
// lines they took.
type turnView struct {
	r         *renderer
	out       *agent.LineWriter
	reasoning bool
	midLine   bool
}

func (r *renderer) startTurn() *turnView {
	return &turnView{r: r, out: agent.NewLineWriter(r.w)}
}

func (v *turnView) handle(e event.Event) error {
	switch e.Type {
	case event.RouteSelected:
		v.line(v.r.accent, "⟡ classification: %s", e.RouteName)
		v.line(v.r.accent, "⟡ worker agent: %s", e.StepName)
	case event.Transition:
		if e.Message == string(workflow.StateLocalFallback) {
			v.line(v.r.accent, "⟡ classification: %s", workflow.NoClassification)
		}
	case event.StepStart:
		if e.StepName != "" {
			v.line(v.r.accent, "⟡ Step %d: %s", e.Step, e.StepName)
		}
	case event.ReasoningDelta:
		v.reasoning = true
		v.write(v.r.muted.Sprint(e.Delta))
	case event.MessageDelta:
		if v.reasoning {
			v.reasoning = false
			v.write("\n")
		}
		v.write(e.Delta)
	case event.ToolCallStart:
		if e.ToolCall != nil {
			v.line(v.r.tool, "→ tool %s", e.ToolCall.Name)
		}
	case event.ToolCallResult:
		if e.ToolResult != nil && e.ToolResult.IsError {
			v.line(v.r.failure, "  error: %s", firstLine(e.ToolResult.Content))
		}
	}
	return nil
}

func (v *turnView) write(s string) {
	if s == "" {
		return
	}
	io.WriteString(v.out, s)
	v.midLine = !strings.HasSuffix(s, "\n")
}

func (v *turnView) line(c *color.Color, format string, args ...any) {
	if v.midLine {
		v.write("\n")
	}
	v.write(c.Sprintf(format, args...) + "\n")
}

// finish replaces the streamed region with the final answer when the
// renderer redraws, and otherwise just ends the current line.
func (v *turnView) finish(answer string) {
	if !v.r.redraw {
		if v.midLine {
			fmt.Fprintln(v.r.w)
		}
		return
	}
	if n := v.out.Lines(); n > 0 {
		up := n
		if v.midLine {
			up--
		}
		erase(v.r.w, up)
	}
	if answer != "" {
		v.r.answer(answer)
	}
}

// erase moves the cursor up lines rows to the start of a line and clears
// everything below it.
func erase(w io.Writer, up int) {
	if up > 0 {
		fmt.Fprintf(w, "\r\x1b[%dA\x1b[J", up)
		return
	}
	io.WriteString(w, "\r\x1b[J")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
