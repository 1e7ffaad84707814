package agent

import (
	"errors"
)

// Sentinel errors for the turn guard.
var (
	// ErrTurnInFlight indicates a turn is already running for the session.
	ErrTurnInFlight = errors.New("agent: a turn is already in flight for this session")

	// ErrNoUserMessage indicates the history does not end with a user message.
	ErrNoUserMessage = errors.New("agent: last message is not a user message")

	// ErrNoResponse indicates the model stream ended without a final response.
	ErrNoResponse = errors.New("agent: model stream ended without a response")
)
