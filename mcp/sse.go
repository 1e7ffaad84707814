package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/sse"
)

// SSETransport speaks the legacy HTTP+SSE MCP transport: one long-lived GET
// stream delivers an "endpoint" event and then "message" events, and client
// messages are POSTed to the announced endpoint.
type SSETransport struct {
	handlerSet

	baseURL string
	headers map[string]string
	client  *http.Client
	log     zerolog.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	endpoint string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSSETransport creates a transport for the SSE stream at url.
func NewSSETransport(url string, opts ...HTTPOption) *SSETransport {
	o := applyHTTPOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &SSETransport{
		baseURL: url,
		headers: o.headers,
		client:  o.client,
		log:     o.log.With().Str("transport", "sse").Str("url", url).Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

var _ Transport = (*SSETransport)(nil)

// Start opens the event stream and waits for the endpoint announcement.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return hanabi.ErrAlreadyStarted
	}
	if t.closed {
		t.mu.Unlock()
		return hanabi.ErrTransportClosed
	}
	t.started = true
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		return &hanabi.TransportError{Op: http.MethodGet, URL: t.baseURL, Err: err}
	}
	t.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return &hanabi.TransportError{Op: http.MethodGet, URL: t.baseURL, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return statusError(http.MethodGet, t.baseURL, resp)
	}

	ready := make(chan error, 1)
	go t.read(resp.Body, ready)

	select {
	case err := <-ready:
		if err != nil {
			_ = t.Close()
		}
		return err
	case <-ctx.Done():
		_ = t.Close()
		return ctx.Err()
	}
}

func (t *SSETransport) setHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

func (t *SSETransport) read(body io.ReadCloser, ready chan<- error) {
	defer body.Close()
	announced := false
	r := sse.NewReader(body)
	for {
		ev, err := r.Next()
		if err != nil {
			if !announced {
				ready <- &hanabi.TransportError{Op: http.MethodGet, URL: t.baseURL, Err: fmt.Errorf("stream ended before endpoint event: %w", err)}
				return
			}
			if !t.isClosed() {
				if !errors.Is(err, io.EOF) {
					t.error(&hanabi.TransportError{Op: "read", URL: t.baseURL, Err: err})
				}
				_ = t.Close()
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			endpoint, err := t.resolve(ev.Data)
			if err != nil {
				if !announced {
					ready <- err
					return
				}
				t.error(err)
				continue
			}
			t.mu.Lock()
			t.endpoint = endpoint
			t.mu.Unlock()
			if !announced {
				announced = true
				ready <- nil
			}
		case "", "message":
			msg, err := ParseMessage([]byte(ev.Data))
			if err != nil {
				t.error(err)
				continue
			}
			t.message(msg)
		default:
			t.log.Warn().Str("event", ev.Type).Msg("ignoring unexpected event")
		}
	}
}

// resolve turns the announced endpoint into an absolute URL on the same origin.
func (t *SSETransport) resolve(ref string) (string, error) {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return "", &hanabi.TransportError{Op: "endpoint", URL: t.baseURL, Err: err}
	}
	u, err := base.Parse(ref)
	if err != nil {
		return "", &hanabi.TransportError{Op: "endpoint", URL: t.baseURL, Err: err}
	}
	if u.Scheme != base.Scheme || u.Host != base.Host {
		return "", &hanabi.TransportError{Op: "endpoint", URL: t.baseURL, Err: fmt.Errorf("endpoint origin %s does not match connection", u.Host)}
	}
	return u.String(), nil
}

func (t *SSETransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Send POSTs msg to the announced endpoint. Replies arrive on the stream.
func (t *SSETransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	closed, endpoint := t.closed, t.endpoint
	t.mu.Unlock()
	if closed {
		return hanabi.ErrTransportClosed
	}
	if endpoint == "" {
		return errors.New("transport not started")
	}

	err := t.post(ctx, endpoint, msg)
	if err == nil {
		return nil
	}
	if t.isClosed() {
		return nil
	}
	t.error(err)
	return err
}

func (t *SSETransport) post(ctx context.Context, endpoint string, msg JSONRPCMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &hanabi.TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	t.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &hanabi.TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(http.MethodPost, endpoint, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close drops the stream and fires OnClose once.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.close()
	return nil
}
