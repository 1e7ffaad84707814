package agent

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/spetersoncode/hanabi"
	"github.com/spetersoncode/hanabi/internal/logging"
)

// DefaultMaxSteps bounds a turn when no limit is configured.
const DefaultMaxSteps = 10

// Options contains configuration for one turn.
type Options struct {
	// MaxSteps limits the number of model calls in a turn. Default is 10.
	// Running out of steps ends the turn without an error.
	MaxSteps int

	// AnswerSchema, when set, adds the format-answer tool and forces the model
	// to call a tool on every step, so the turn ends with a structured answer.
	AnswerSchema json.RawMessage

	// Streaming selects ChatStream over Chat for model calls.
	Streaming bool

	// Sink receives deltas and tool notifications as Run drains the turn.
	Sink Sink

	// HandlerTimeout bounds each tool handler. Zero means no per-handler limit.
	HandlerTimeout time.Duration

	// ParallelToolCalls runs the tool calls of one step concurrently.
	// Results keep the order of the calls. Default is true.
	ParallelToolCalls bool

	// ChatOptions are passed through to the ChatProvider on every call.
	ChatOptions []hanabi.Option

	Logger zerolog.Logger
}

// Option is a functional option for configuring a turn.
type Option func(*Options)

// WithMaxSteps sets the maximum number of model calls. Values below one
// fall back to the default.
func WithMaxSteps(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxSteps = n
		}
	}
}

// WithAnswerSchema requests a structured final answer matching schema.
// A nil or empty schema leaves the turn unstructured.
func WithAnswerSchema(schema json.RawMessage) Option {
	return func(o *Options) {
		if len(schema) > 0 {
			o.AnswerSchema = schema
		}
	}
}

// WithStreaming enables or disables token streaming.
func WithStreaming(enabled bool) Option {
	return func(o *Options) {
		o.Streaming = enabled
	}
}

// WithSink sets the receiver of streamed output.
func WithSink(s Sink) Option {
	return func(o *Options) {
		o.Sink = s
	}
}

// WithHandlerTimeout sets the timeout for each individual tool handler.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.HandlerTimeout = d
	}
}

// WithParallelToolCalls enables or disables concurrent tool execution.
func WithParallelToolCalls(enabled bool) Option {
	return func(o *Options) {
		o.ParallelToolCalls = enabled
	}
}

// WithChatOptions passes options through to the ChatProvider.
func WithChatOptions(opts ...hanabi.Option) Option {
	return func(o *Options) {
		o.ChatOptions = append(o.ChatOptions, opts...)
	}
}

// WithModel is a convenience option to set the model for chat calls.
func WithModel(model string) Option {
	return func(o *Options) {
		o.ChatOptions = append(o.ChatOptions, hanabi.WithModel(model))
	}
}

// WithLogger sets the logger used for the turn.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// ApplyOptions applies functional options to an Options struct with defaults.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{
		MaxSteps:          DefaultMaxSteps,
		ParallelToolCalls: true,
		Logger:            logging.Component("agent"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
