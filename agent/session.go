package agent

import (
	"context"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/spetersoncode/hanabi"
)

// Session is one chat session: a REPL or a single web request. It allows at
// most one turn in flight at a time.
type Session struct {
	ID       string
	inFlight atomic.Bool
}

// NewSession creates a session with a fresh id.
func NewSession() *Session {
	return &Session{ID: ulid.Make().String()}
}

// Begin claims the session for a turn. The returned release must be called
// when the turn ends.
func (s *Session) Begin() (release func(), err error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrTurnInFlight
	}
	return func() { s.inFlight.Store(false) }, nil
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	return s.inFlight.Load()
}

// CheckTurn verifies that messages end with a user message.
func CheckTurn(messages []hanabi.Message) error {
	if len(messages) == 0 || messages[len(messages)-1].Role != hanabi.RoleUser {
		return ErrNoUserMessage
	}
	return nil
}

// BeginTurn checks messages with CheckTurn and then claims the session. The
// returned release must be called when the turn ends.
func (s *Session) BeginTurn(messages []hanabi.Message) (release func(), err error) {
	if err := CheckTurn(messages); err != nil {
		return nil, err
	}
	return s.Begin()
}

// RunTurn runs one guarded turn of a on the session. It fails without
// calling the model when the history does not end with a user message or
// another turn is still running.
func RunTurn(ctx context.Context, s *Session, a *Agent, messages []hanabi.Message, opts ...Option) (*Result, error) {
	release, err := s.BeginTurn(messages)
	if err != nil {
		return nil, err
	}
	defer release()
	return a.Run(ctx, messages, opts...)
}
