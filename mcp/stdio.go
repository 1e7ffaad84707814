package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/logging"
)

const stopGrace = 2 * time.Second

// StdioConfig describes the server process of a StdioTransport.
type StdioConfig struct {
	Command string
	Args    []string
	// Env is added to the parent environment.
	Env map[string]string
	Dir string
	// Stderr receives the child's stderr. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *zerolog.Logger
}

// StdioTransport runs an MCP server as a child process and exchanges
// newline-delimited JSON-RPC over its stdin and stdout.
type StdioTransport struct {
	handlerSet

	cfg StdioConfig
	log zerolog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	// done is closed once the child has exited and been reaped.
	done chan struct{}

	writeMu sync.Mutex
}

// NewStdioTransport creates a transport; the process is spawned by Start.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	l := logging.Component("mcp")
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &StdioTransport{
		cfg:  cfg,
		log:  l.With().Str("transport", "stdio").Str("command", cfg.Command).Logger(),
		done: make(chan struct{}),
	}
}

var _ Transport = (*StdioTransport)(nil)

// Start spawns the server process. The process outlives ctx; only Close
// stops it.
func (t *StdioTransport) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return hanabi.ErrAlreadyStarted
	}
	if t.closed {
		return hanabi.ErrTransportClosed
	}
	t.started = true

	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = mergeEnv(os.Environ(), t.cfg.Env)
	cmd.Dir = t.cfg.Dir
	cmd.Stderr = t.cfg.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &hanabi.TransportError{Op: "spawn", URL: t.cfg.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return &hanabi.TransportError{Op: "spawn", URL: t.cfg.Command, Err: err}
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return &hanabi.TransportError{Op: "spawn", URL: t.cfg.Command, Err: err}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.log.Debug().Int("pid", cmd.Process.Pid).Strs("args", t.cfg.Args).Msg("MCP server started")

	go t.read(stdout)
	return nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// read consumes stdout until it closes, then reaps the child. A closed
// stdout is unrecoverable and closes the transport.
func (t *StdioTransport) read(stdout io.Reader) {
	r := bufio.NewReaderSize(stdout, 1<<20)
	for {
		line, err := r.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			msg, perr := ParseMessage(line)
			if perr != nil {
				t.error(perr)
			} else {
				t.message(msg)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.isClosed() {
				t.error(&hanabi.TransportError{Op: "read", URL: t.cfg.Command, Err: err})
			}
			break
		}
	}

	waitErr := t.cmd.Wait()
	close(t.done)
	if !t.isClosed() {
		t.log.Debug().AnErr("exit", waitErr).Msg("MCP server exited")
		_ = t.Close()
	}
}

func (t *StdioTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Send writes msg as one line to the child's stdin.
func (t *StdioTransport) Send(_ context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	closed, stdin := t.closed, t.stdin
	t.mu.Unlock()
	if closed {
		return hanabi.ErrTransportClosed
	}
	if stdin == nil {
		return errors.New("transport not started")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	t.writeMu.Lock()
	_, err = stdin.Write(append(data, '\n'))
	t.writeMu.Unlock()
	if err != nil {
		if t.isClosed() {
			return hanabi.ErrTransportClosed
		}
		err = &hanabi.TransportError{Op: "write", URL: t.cfg.Command, Err: err}
		t.error(err)
		return err
	}
	return nil
}

// Close stops the child (stdin EOF first, kill after a grace period) and
// fires OnClose once.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cmd, stdin := t.cmd, t.stdin
	t.mu.Unlock()

	if cmd != nil {
		_ = stdin.Close()
		select {
		case <-t.done:
		case <-time.After(stopGrace):
			t.log.Warn().Int("pid", cmd.Process.Pid).Msg("MCP server did not exit, killing")
			_ = cmd.Process.Kill()
			select {
			case <-t.done:
			case <-time.After(stopGrace):
			}
		}
	}
	t.close()
	return nil
}
