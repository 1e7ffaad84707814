package hanabi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAlreadyStarted is returned by Start on a transport that was started before.
	ErrAlreadyStarted = errors.New("transport already started")

	// ErrTransportClosed is returned by operations on a closed transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrNoDefaultModel is returned when no usable default model is configured.
	ErrNoDefaultModel = errors.New("no default model found")
)

// ErrorCategory classifies provider errors by how they should be handled.
type ErrorCategory string

const (
	// ErrorTransient indicates the error is temporary and the operation can be retried.
	ErrorTransient ErrorCategory = "transient"

	// ErrorPermanent indicates the error is not recoverable through retry.
	ErrorPermanent ErrorCategory = "permanent"

	// ErrorUserInput indicates the user provided invalid input that must be corrected.
	ErrorUserInput ErrorCategory = "user_input"
)

// Error is a categorized provider error with metadata for handling decisions.
type Error struct {
	Msg        string
	Cat        ErrorCategory
	Code       int           // HTTP status code, 0 if not applicable
	RetryDelay time.Duration // from Retry-After header, 0 if not available
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable returns true if the error is transient.
func (e *Error) Retryable() bool { return e.Cat == ErrorTransient }

// NewProviderError creates a categorized error.
func NewProviderError(cat ErrorCategory, msg string, statusCode int, retryAfter time.Duration, cause error) *Error {
	return &Error{Msg: msg, Cat: cat, Code: statusCode, RetryDelay: retryAfter, Cause: cause}
}

// CategoryOf returns the category of a categorized error, or "".
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Cat
	}
	return ""
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// TransportError reports a failure to move bytes: connection refused, a
// malformed frame or a non-2xx HTTP status.
type TransportError struct {
	Op         string // "POST", "GET", "DELETE", "spawn", "read", ...
	URL        string
	StatusCode int
	// Body is the raw response body when no JSON-RPC error could be parsed.
	Body string
	// RPC is the JSON-RPC error object carried by the response, if any.
	RPC *RPCError
	Err error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	sb.WriteString("transport error")
	if e.Op != "" {
		sb.WriteString(" (" + e.Op)
		if e.URL != "" {
			sb.WriteString(" " + e.URL)
		}
		sb.WriteString(")")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status %d", e.StatusCode)
	}
	switch {
	case e.RPC != nil:
		sb.WriteString(": " + e.RPC.Error())
	case e.Body != "":
		sb.WriteString(": " + e.Body)
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.RPC != nil {
		return e.RPC
	}
	return nil
}

// ProtocolError reports a JSON-RPC message that fails basic shape validation.
type ProtocolError struct {
	Msg string
	Raw json.RawMessage
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

// ToolInvocationError reports a failed remote tool call. It never ends a
// turn: the loop turns it into an error tool-result for the model.
type ToolInvocationError struct {
	Tool string
	Err  error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// ConfigurationError reports an invalid or incomplete configuration.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Msg)
}

// ClassificationAmbiguityError reports a classification label outside the
// configured set. Dispatchers treat it as the no-classification sentinel.
type ClassificationAmbiguityError struct {
	Label   string
	Allowed []string
}

func (e *ClassificationAmbiguityError) Error() string {
	return fmt.Sprintf("classification %q is not one of %v", e.Label, e.Allowed)
}
