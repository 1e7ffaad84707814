package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/internal/sse"
)

// SessionHeader carries the server-assigned session id.
const SessionHeader = "Mcp-Session-Id"

const deleteTimeout = 5 * time.Second

// StreamableHTTPTransport speaks MCP over HTTP: each message is a POST, the
// server may push messages over a standing GET stream once a session exists,
// and Close ends the session with a DELETE.
type StreamableHTTPTransport struct {
	handlerSet

	url     string
	headers map[string]string
	client  *http.Client
	log     zerolog.Logger

	mu        sync.Mutex
	started   bool
	closed    bool
	sessionID string
	pushing   bool

	// ctx is cancelled by Close and aborts every in-flight request.
	ctx    context.Context
	cancel context.CancelFunc
}

// HTTPOption configures the HTTP-based transports.
type HTTPOption func(*httpOptions)

type httpOptions struct {
	headers map[string]string
	client  *http.Client
	log     *zerolog.Logger
}

// WithHeaders adds headers to every request.
func WithHeaders(h map[string]string) HTTPOption {
	return func(o *httpOptions) { o.headers = h }
}

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *httpOptions) { o.client = c }
}

// WithTransportLogger sets the logger used for non-fatal diagnostics.
func WithTransportLogger(l zerolog.Logger) HTTPOption {
	return func(o *httpOptions) { o.log = &l }
}

func applyHTTPOptions(opts []HTTPOption) httpOptions {
	o := httpOptions{client: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		l := logging.Component("mcp")
		o.log = &l
	}
	return o
}

// NewStreamableHTTPTransport creates a transport for the MCP endpoint at url.
func NewStreamableHTTPTransport(url string, opts ...HTTPOption) *StreamableHTTPTransport {
	o := applyHTTPOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &StreamableHTTPTransport{
		url:     url,
		headers: o.headers,
		client:  o.client,
		log:     o.log.With().Str("transport", "streamable-http").Str("url", url).Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

var _ Transport = (*StreamableHTTPTransport)(nil)

// Start marks the transport started. The handshake travels with the first Send.
func (t *StreamableHTTPTransport) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return hanabi.ErrAlreadyStarted
	}
	if t.closed {
		return hanabi.ErrTransportClosed
	}
	t.started = true
	return nil
}

// SessionID returns the session established by the server, if any.
func (t *StreamableHTTPTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *StreamableHTTPTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// requestContext is cancelled when either ctx ends or the transport closes.
func (t *StreamableHTTPTransport) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(t.ctx, cancel)
	return reqCtx, func() {
		stop()
		cancel()
	}
}

func (t *StreamableHTTPTransport) newRequest(ctx context.Context, method string, body io.Reader, session string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	return req, nil
}

// Send POSTs msg and dispatches any reply to OnMessage. Failures are both
// reported to OnError and returned. Failures caused by Close are swallowed.
func (t *StreamableHTTPTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return hanabi.ErrTransportClosed
	}
	if !t.started {
		t.mu.Unlock()
		return errors.New("transport not started")
	}
	session := t.sessionID
	t.mu.Unlock()

	err := t.send(ctx, msg, session)
	if err == nil {
		return nil
	}
	if t.isClosed() {
		t.log.Debug().Err(err).Msg("request aborted by close")
		return nil
	}
	t.error(err)
	return err
}

func (t *StreamableHTTPTransport) send(ctx context.Context, msg JSONRPCMessage, session string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := t.requestContext(ctx)
	defer cancel()

	req, err := t.newRequest(ctx, http.MethodPost, bytes.NewReader(body), session)
	if err != nil {
		return &hanabi.TransportError{Op: http.MethodPost, URL: t.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return &hanabi.TransportError{Op: http.MethodPost, URL: t.url, Err: err}
	}
	defer resp.Body.Close()

	t.captureSession(resp, msg)

	if resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(http.MethodPost, t.url, resp)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/event-stream":
		return t.readFirstEvent(resp.Body)
	default:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &hanabi.TransportError{Op: "read", URL: t.url, Err: err}
		}
		if mediaType != "application/json" && len(strings.TrimSpace(string(data))) > 0 {
			t.log.Warn().Str("content_type", mediaType).Msg("unexpected response content type, trying JSON")
		}
		t.dispatch(data)
		return nil
	}
}

// captureSession records the first session id the server hands out and
// opens the push stream for it.
func (t *StreamableHTTPTransport) captureSession(resp *http.Response, msg JSONRPCMessage) {
	sid := resp.Header.Get(SessionHeader)

	t.mu.Lock()
	startPush := false
	if sid != "" && t.sessionID == "" && !t.closed {
		t.sessionID = sid
		if !t.pushing {
			t.pushing = true
			startPush = true
		}
	}
	established := t.sessionID != ""
	t.mu.Unlock()

	if msg.Method == "initialize" && !established {
		t.log.Warn().Msg("initialize response carried no session id; server is stateless")
	}
	if startPush {
		go t.push(sid)
	}
}

// readFirstEvent takes the reply from the first data event only. Servers are
// not expected to answer POSTs over SSE; any later events are not read.
func (t *StreamableHTTPTransport) readFirstEvent(body io.Reader) error {
	r := sse.NewReader(body)
	for {
		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &hanabi.TransportError{Op: "read", URL: t.url, Err: err}
		}
		if ev.Data == "" {
			continue
		}
		t.dispatch([]byte(ev.Data))
		return nil
	}
}

func (t *StreamableHTTPTransport) dispatch(data []byte) {
	msgs, errs := ParseBatch(data)
	for _, err := range errs {
		t.error(err)
	}
	for _, m := range msgs {
		t.message(m)
	}
}

// push holds the GET stream open for server-initiated messages. It is best
// effort: servers that refuse the stream are simply not listened to.
func (t *StreamableHTTPTransport) push(session string) {
	req, err := t.newRequest(t.ctx, http.MethodGet, nil, session)
	if err != nil {
		t.log.Debug().Err(err).Msg("push stream request")
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		if !t.isClosed() {
			t.log.Debug().Err(err).Msg("push stream unavailable")
		}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.log.Debug().Int("status", resp.StatusCode).Msg("push stream refused")
		return
	}

	r := sse.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.isClosed() {
				t.error(&hanabi.TransportError{Op: http.MethodGet, URL: t.url, Err: err})
			}
			return
		}
		if ev.Type != "" && ev.Type != "message" {
			t.log.Warn().Str("event", ev.Type).Msg("ignoring unexpected push event")
			continue
		}
		if ev.Data == "" {
			continue
		}
		msg, err := ParseMessage([]byte(ev.Data))
		if err != nil {
			t.error(err)
			continue
		}
		t.message(msg)
	}
}

// Close aborts in-flight requests, ends the session and fires OnClose. It is
// safe to call more than once.
func (t *StreamableHTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	session := t.sessionID
	t.mu.Unlock()

	t.cancel()

	if session != "" {
		t.terminateSession(session)
	}
	t.close()
	return nil
}

func (t *StreamableHTTPTransport) terminateSession(session string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	req, err := t.newRequest(ctx, http.MethodDelete, nil, session)
	if err != nil {
		t.log.Warn().Err(err).Msg("session delete")
		return
	}
	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Warn().Err(err).Msg("session delete failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMethodNotAllowed {
		t.log.Warn().Int("status", resp.StatusCode).Msg("session delete rejected")
	}
}

// statusError builds a TransportError from a non-2xx response, preferring a
// JSON-RPC error object in the body over the raw text.
func statusError(op, url string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	te := &hanabi.TransportError{Op: op, URL: url, StatusCode: resp.StatusCode}

	var envelope struct {
		Error *hanabi.RPCError `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
		te.RPC = envelope.Error
	} else {
		te.Body = strings.TrimSpace(string(data))
	}
	return te
}
