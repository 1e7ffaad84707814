package mcp

import (
	"context"
	"sync"
)

// Transport is a point-to-point JSON-RPC channel to one MCP server.
//
// Handlers must be set before Start. Start may be called once. After Close
// every Send fails with hanabi.ErrTransportClosed and OnClose has fired
// exactly once.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, msg JSONRPCMessage) error
	Close() error
	SetHandlers(h Handlers)
}

// Handlers receive inbound traffic from a Transport. Any of them may be nil.
// Errors passed to OnError do not close the transport.
type Handlers struct {
	OnMessage func(JSONRPCMessage)
	OnError   func(error)
	OnClose   func()
}

// handlerSet is embedded by transports to guard handler access.
type handlerSet struct {
	mu sync.RWMutex
	h  Handlers
}

func (s *handlerSet) SetHandlers(h Handlers) {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
}

func (s *handlerSet) message(m JSONRPCMessage) {
	s.mu.RLock()
	fn := s.h.OnMessage
	s.mu.RUnlock()
	if fn != nil {
		fn(m)
	}
}

func (s *handlerSet) error(err error) {
	s.mu.RLock()
	fn := s.h.OnError
	s.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (s *handlerSet) close() {
	s.mu.RLock()
	fn := s.h.OnClose
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}
