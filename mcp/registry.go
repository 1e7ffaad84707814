package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/tool"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds the handshake and tool calls of servers that do not
// configure a timeout.
const DefaultTimeout = 60 * time.Second

// DialFunc connects to the server declared under key.
type DialFunc func(ctx context.Context, key string, d config.ServerDescriptor) (*Client, error)

// Registry owns one live Client per server key. Clients are connected on
// first use, reused by later turns and closed by CloseAll.
type Registry struct {
	dial    DialFunc
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.Mutex
	servers map[string]config.ServerDescriptor
	entries map[string]*entry
	closed  bool
}

type entry struct {
	ready  chan struct{}
	client *Client
	tools  *tool.Set
	err    error
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDialer replaces Dial.
func WithDialer(d DialFunc) RegistryOption {
	return func(r *Registry) { r.dial = d }
}

// WithDefaultTimeout sets the timeout for servers without one.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithRegistryLogger sets the registry logger.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates a registry over the declared servers.
func NewRegistry(servers map[string]config.ServerDescriptor, opts ...RegistryOption) *Registry {
	r := &Registry{
		dial:    Dial,
		timeout: DefaultTimeout,
		log:     logging.Component("registry"),
		servers: servers,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetServers replaces the declarations. Connected clients are kept.
func (r *Registry) SetServers(servers map[string]config.ServerDescriptor) {
	r.mu.Lock()
	r.servers = servers
	r.mu.Unlock()
}

// Keys returns the declared server keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.servers))
	for k := range r.servers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Connected returns the keys with a live client, sorted.
func (r *Registry) Connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for k, e := range r.entries {
		select {
		case <-e.ready:
			if e.err == nil {
				keys = append(keys, k)
			}
		default:
		}
	}
	sort.Strings(keys)
	return keys
}

// GetTools returns the merged tool set of the given servers. Servers are
// connected in parallel; tools are merged in key order and a later key wins
// a name collision.
//
// A server that fails to connect does not stop the others: the returned set
// always holds every tool that could be loaded, and the error joins the
// individual failures. Unknown keys are skipped with a warning.
func (r *Registry) GetTools(ctx context.Context, keys []string) (*tool.Set, error) {
	r.mu.Lock()
	servers := r.servers
	r.mu.Unlock()

	sets := make([]*tool.Set, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		d, ok := servers[key]
		if !ok {
			r.log.Warn().Str("key", key).Msg("no MCP server configured for key")
			continue
		}
		g.Go(func() error {
			e, err := r.get(ctx, key, d)
			if err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("MCP server unavailable")
				errs[i] = fmt.Errorf("mcp server %q: %w", key, err)
				return nil
			}
			sets[i] = e.tools
			return nil
		})
	}
	_ = g.Wait()

	return tool.Merge(sets...), errors.Join(errs...)
}

// get returns the entry for key, connecting it when absent. Concurrent
// callers for the same key share one connection attempt.
func (r *Registry) get(ctx context.Context, key string, d config.ServerDescriptor) (*entry, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, hanabi.ErrTransportClosed
	}
	e, ok := r.entries[key]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		r.entries[key] = e
	}
	r.mu.Unlock()

	if !ok {
		r.connect(ctx, key, d, e)
	}

	select {
	case <-e.ready:
		return e, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) connect(ctx context.Context, key string, d config.ServerDescriptor, e *entry) {
	defer close(e.ready)

	timeout := r.timeout
	if d.Timeout > 0 {
		timeout = time.Duration(d.Timeout) * time.Millisecond
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	client, err := r.dial(hctx, key, d)
	var tools []mcp.Tool
	if err == nil {
		tools, err = client.ListTools(hctx)
		if err != nil {
			_ = client.Close()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil && r.closed {
		_ = client.Close()
		err = hanabi.ErrTransportClosed
	}
	if err != nil {
		e.err = err
		if r.entries[key] == e {
			delete(r.entries, key)
		}
		return
	}

	e.client = client
	e.tools = tool.NewSet(Descriptors(client, key, tools, timeout)...)
	r.log.Info().Str("key", key).Int("tools", len(tools)).Dur("elapsed", time.Since(start)).Msg("MCP server connected")
}

// CloseAll closes every client. A failing close is logged and does not stop
// the others. Later calls are no-ops and later GetTools calls fail.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var errs []error
	for key, e := range entries {
		select {
		case <-e.ready:
		default:
			// Still connecting; connect closes it when it sees r.closed.
			continue
		}
		if e.client == nil {
			continue
		}
		if err := closeClient(e.client); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("closing MCP client")
			errs = append(errs, fmt.Errorf("mcp server %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func closeClient(c *Client) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during close: %v", p)
		}
	}()
	return c.Close()
}

// CloseOnSignal runs CloseAll when the process receives an interrupt or
// termination signal, then re-delivers the signal so the process still
// exits the way it would have. The returned function stops listening.
func (r *Registry) CloseOnSignal() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	var once sync.Once
	stop = func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}

	go func() {
		select {
		case sig := <-sigs:
			r.log.Info().Str("signal", sig.String()).Msg("closing MCP clients")
			_ = r.CloseAll()
			stop()
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(sig)
			}
		case <-done:
		}
	}()
	return stop
}

// DialOptions tune the transports built by NewTransport.
type DialOptions struct {
	// Stderr receives stdio server diagnostics. Defaults to os.Stderr.
	Stderr io.Writer
}

// NewTransport builds the transport a descriptor asks for.
func NewTransport(d config.ServerDescriptor, o DialOptions) (Transport, error) {
	switch d.Transport {
	case config.TransportStdio:
		if d.Command == "" {
			return nil, &hanabi.ConfigurationError{Field: "command", Msg: "stdio server has no command"}
		}
		return NewStdioTransport(StdioConfig{
			Command: d.Command,
			Args:    d.Args,
			Env:     d.Env,
			Dir:     d.Cwd,
			Stderr:  o.Stderr,
		}), nil
	case config.TransportSSE:
		if d.URL == "" {
			return nil, &hanabi.ConfigurationError{Field: "url", Msg: "sse server has no url"}
		}
		return NewSSETransport(d.URL, WithHeaders(d.Headers)), nil
	case config.TransportStreamableHTTP:
		if d.URL == "" {
			return nil, &hanabi.ConfigurationError{Field: "url", Msg: "streamable-http server has no url"}
		}
		return NewStreamableHTTPTransport(d.URL, WithHeaders(d.Headers)), nil
	default:
		return nil, &hanabi.ConfigurationError{Field: "transport", Msg: fmt.Sprintf("unknown transport kind %q", d.Transport)}
	}
}

// Dial builds the transport for d and performs the MCP handshake.
func Dial(ctx context.Context, key string, d config.ServerDescriptor) (*Client, error) {
	t, err := NewTransport(d, DialOptions{})
	if err != nil {
		return nil, err
	}
	version := d.Version
	if version == "" {
		version = "1.0.0"
	}
	c := NewClient(t, WithClientInfo(key+"-client", version))
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
