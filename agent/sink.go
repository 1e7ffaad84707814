package agent

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/spetersoncode/hanabi"
)

// Sink receives the visible output of a turn in arrival order.
// Text and reasoning deltas are append-only. Tool calls and results arrive
// as discrete notifications between them.
type Sink interface {
	Text(delta string)
	Reasoning(delta string)
	ToolCall(call hanabi.ToolCall)
	ToolResult(result hanabi.ToolResult)
}

// LineWriter counts the terminal lines written through it so the caller can
// erase and redraw that region once the turn is over.
type LineWriter struct {
	mu      sync.Mutex
	w       io.Writer
	lines   int
	midLine bool
}

// NewLineWriter wraps w.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

func (lw *LineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	n, err := lw.w.Write(p)
	written := p[:n]
	nl := bytes.Count(written, []byte{'\n'})
	if nl > 0 {
		lw.lines += nl
		lw.midLine = written[len(written)-1] != '\n'
	} else if n > 0 {
		lw.midLine = true
	}
	return n, err
}

// Lines returns the number of lines touched so far, counting a trailing
// partial line.
func (lw *LineWriter) Lines() int {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.midLine {
		return lw.lines + 1
	}
	return lw.lines
}

// Reset forgets the counted lines.
func (lw *LineWriter) Reset() {
	lw.mu.Lock()
	lw.lines, lw.midLine = 0, false
	lw.mu.Unlock()
}

// WriterSink renders a turn as plain text on a LineWriter.
type WriterSink struct {
	*LineWriter
	// ShowReasoning writes reasoning deltas too.
	ShowReasoning bool
}

// NewWriterSink creates a sink that writes to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{LineWriter: NewLineWriter(w)}
}

func (s *WriterSink) Text(delta string) {
	io.WriteString(s, delta)
}

func (s *WriterSink) Reasoning(delta string) {
	if s.ShowReasoning {
		io.WriteString(s, delta)
	}
}

func (s *WriterSink) ToolCall(call hanabi.ToolCall) {
	fmt.Fprintf(s, "\n[tool: %s]\n", call.Name)
}

func (s *WriterSink) ToolResult(result hanabi.ToolResult) {
	if result.IsError {
		fmt.Fprintf(s, "[tool %s failed]\n", result.ToolName)
	}
}
