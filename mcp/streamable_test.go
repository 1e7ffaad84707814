package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spetersoncode/hanabi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects transport callbacks.
type recorder struct {
	mu     sync.Mutex
	msgs   []JSONRPCMessage
	errs   []error
	closes atomic.Int32
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnMessage: func(m JSONRPCMessage) {
			r.mu.Lock()
			r.msgs = append(r.msgs, m)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnClose: func() { r.closes.Add(1) },
	}
}

func (r *recorder) messages() []JSONRPCMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]JSONRPCMessage(nil), r.msgs...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func startStreamable(t *testing.T, h http.HandlerFunc) (*StreamableHTTPTransport, *recorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tr := NewStreamableHTTPTransport(srv.URL+"/mcp", WithHeaders(map[string]string{"X-Api-Key": "k"}))
	rec := &recorder{}
	tr.SetHandlers(rec.handlers())
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, rec
}

func request(t *testing.T, id int64, method string) JSONRPCMessage {
	t.Helper()
	msg, err := NewRequest(id, method, map[string]any{})
	require.NoError(t, err)
	return msg
}

func notification(t *testing.T, method string) JSONRPCMessage {
	t.Helper()
	msg, err := NewNotification(method, nil)
	require.NoError(t, err)
	return msg
}

func decodeBody(t *testing.T, r *http.Request) JSONRPCMessage {
	t.Helper()
	var msg JSONRPCMessage
	require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
	return msg
}

func writeResult(w http.ResponseWriter, id json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{}}`, id)
}

func TestStreamableSessionLifecycle(t *testing.T) {
	var (
		mu          sync.Mutex
		postSession []string
		getSession  []string
		deletes     atomic.Int32
	)

	tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "application/json, text/event-stream", r.Header.Get("Accept"))
			msg := decodeBody(t, r)
			mu.Lock()
			postSession = append(postSession, r.Header.Get(SessionHeader))
			mu.Unlock()
			if msg.IsNotification() {
				w.WriteHeader(http.StatusAccepted)
				return
			}
			if msg.Method == "initialize" {
				w.Header().Set(SessionHeader, "sess-1")
			} else {
				// A server may repeat or change the header; the first one sticks.
				w.Header().Set(SessionHeader, "sess-other")
			}
			writeResult(w, msg.ID)
		case http.MethodGet:
			assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
			mu.Lock()
			getSession = append(getSession, r.Header.Get(SessionHeader))
			mu.Unlock()
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodDelete:
			assert.Equal(t, "sess-1", r.Header.Get(SessionHeader))
			deletes.Add(1)
			w.WriteHeader(http.StatusOK)
		}
	})

	ctx := context.Background()
	require.NoError(t, tr.Send(ctx, request(t, 1, "initialize")))
	require.NoError(t, tr.Send(ctx, notification(t, "notifications/initialized")))
	require.NoError(t, tr.Send(ctx, request(t, 2, "tools/list")))
	require.NoError(t, tr.Send(ctx, request(t, 3, "tools/call")))

	assert.Equal(t, "sess-1", tr.SessionID())
	mu.Lock()
	assert.Equal(t, []string{"", "sess-1", "sess-1", "sess-1"}, postSession)
	mu.Unlock()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(getSession) == 1 && getSession[0] == "sess-1"
	}, time.Second, 10*time.Millisecond)

	require.Len(t, rec.messages(), 3)
	assert.Empty(t, rec.errors())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, int32(1), deletes.Load())
	assert.Equal(t, int32(1), rec.closes.Load())

	assert.ErrorIs(t, tr.Send(ctx, request(t, 4, "ping")), hanabi.ErrTransportClosed)
}

func TestStreamableStart(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tr := NewStreamableHTTPTransport(srv.URL)
	require.NoError(t, tr.Start(context.Background()))
	assert.ErrorIs(t, tr.Start(context.Background()), hanabi.ErrAlreadyStarted)
	assert.Equal(t, int32(0), hits.Load())

	require.NoError(t, tr.Close())
	assert.Equal(t, int32(0), hits.Load(), "no session means no DELETE")
}

func TestStreamableCloseWithoutSession(t *testing.T) {
	var deletes atomic.Int32
	tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletes.Add(1)
		}
		writeResult(w, decodeBody(t, r).ID)
	})

	require.NoError(t, tr.Send(context.Background(), request(t, 1, "initialize")))
	assert.Empty(t, tr.SessionID())

	require.NoError(t, tr.Close())
	assert.Equal(t, int32(0), deletes.Load())
	assert.Equal(t, int32(1), rec.closes.Load())
}

func TestStreamableResponses(t *testing.T) {
	t.Run("batch with an invalid element", func(t *testing.T) {
		tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			io.WriteString(w, `[{"jsonrpc":"2.0","id":1,"result":{}},{"id":2,"result":{}}]`)
		})

		require.NoError(t, tr.Send(context.Background(), request(t, 1, "tools/list")))
		assert.Len(t, rec.messages(), 1)
		require.Len(t, rec.errors(), 1)
		var pe *hanabi.ProtocolError
		assert.True(t, errors.As(rec.errors()[0], &pe))
	})

	t.Run("event stream yields only the first event", func(t *testing.T) {
		tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, ": comment\n\n")
			io.WriteString(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\n")
			io.WriteString(w, "data: \"result\":{\"first\":true}}\n\n")
			io.WriteString(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"second\":true}}\n\n")
		})

		require.NoError(t, tr.Send(context.Background(), request(t, 1, "tools/call")))
		msgs := rec.messages()
		require.Len(t, msgs, 1)
		assert.JSONEq(t, `{"first":true}`, string(msgs[0].Result))
	})

	t.Run("accepted has no content", func(t *testing.T) {
		tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
		require.NoError(t, tr.Send(context.Background(), notification(t, "notifications/initialized")))
		assert.Empty(t, rec.messages())
		assert.Empty(t, rec.errors())
	})

	t.Run("error status carries the json-rpc error", func(t *testing.T) {
		tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"bad session"}}`)
		})

		err := tr.Send(context.Background(), request(t, 1, "tools/list"))
		var te *hanabi.TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, http.StatusBadRequest, te.StatusCode)
		require.NotNil(t, te.RPC)
		assert.Equal(t, -32600, te.RPC.Code)
		assert.Len(t, rec.errors(), 1)
	})

	t.Run("error status falls back to the body", func(t *testing.T) {
		tr, _ := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		})

		err := tr.Send(context.Background(), request(t, 1, "tools/list"))
		var te *hanabi.TransportError
		require.True(t, errors.As(err, &te))
		assert.Nil(t, te.RPC)
		assert.Equal(t, "upstream exploded", te.Body)
	})
}

func TestStreamablePushStream(t *testing.T) {
	tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			msg := decodeBody(t, r)
			w.Header().Set(SessionHeader, "s")
			writeResult(w, msg.ID)
		case http.MethodGet:
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, "event: endpoint\ndata: /ignored\n\n")
			io.WriteString(w, "data: not json\n\n")
			io.WriteString(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/tools/list_changed\"}\n\n")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}
	})

	require.NoError(t, tr.Send(context.Background(), request(t, 1, "initialize")))

	assert.Eventually(t, func() bool { return len(rec.messages()) == 2 }, time.Second, 10*time.Millisecond)
	msgs := rec.messages()
	assert.True(t, msgs[0].IsResponse())
	assert.Equal(t, "notifications/tools/list_changed", msgs[1].Method)

	errs := rec.errors()
	require.Len(t, errs, 1)
	var pe *hanabi.ProtocolError
	assert.True(t, errors.As(errs[0], &pe))

	require.NoError(t, tr.Close())
	assert.Len(t, rec.errors(), 1, "closing the push stream is not an error")
}

func TestStreamableCloseAbortsInFlight(t *testing.T) {
	received := make(chan struct{})
	tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			return
		}
		io.Copy(io.Discard, r.Body)
		close(received)
		<-r.Context().Done()
	})

	done := make(chan error, 1)
	go func() { done <- tr.Send(context.Background(), request(t, 1, "tools/call")) }()

	<-received
	require.NoError(t, tr.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send was not aborted by close")
	}
	assert.Empty(t, rec.errors())
	assert.Equal(t, int32(1), rec.closes.Load())
}

func TestStreamableCallerTimeoutIsReported(t *testing.T) {
	tr, rec := startStreamable(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tr.Send(ctx, request(t, 1, "tools/call"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, rec.errors(), 1)
}
