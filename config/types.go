package config

import (
	"encoding/json"

	"github.com/spetersoncode/hanabi"
)

// Config is the contents of a .hanabi.json file.
type Config struct {
	LLMs         []LLM                       `json:"llms" yaml:"llms"`
	DefaultModel *DefaultModel               `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	MCPServers   map[string]ServerDescriptor `json:"mcpServers,omitempty" yaml:"mcpServers,omitempty"`
	// Streaming defaults to true when unset.
	Streaming    *bool             `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	MaxSteps     int               `json:"maxSteps,omitempty" yaml:"maxSteps,omitempty"`
	AnswerSchema json.RawMessage   `json:"answerSchema,omitempty" yaml:"-"`
	SystemPrompt string            `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	Envs         map[string]string `json:"envs,omitempty" yaml:"-"`
	// Exclude lists glob patterns hidden from the @file picker.
	Exclude     []string     `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Serve       *Serve       `json:"serve,omitempty" yaml:"serve,omitempty"`
	MultiAgents *MultiAgents `json:"multiAgents,omitempty" yaml:"multiAgents,omitempty"`
}

// LLM is one configured model provider.
type LLM struct {
	Provider   hanabi.Provider `json:"provider" yaml:"provider"`
	APIKey     string          `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIURL     string          `json:"apiUrl,omitempty" yaml:"apiUrl,omitempty"`
	APIVersion string          `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

// DefaultModel selects the model used for new chats.
type DefaultModel struct {
	Provider hanabi.Provider `json:"provider" yaml:"provider"`
	Model    string          `json:"model" yaml:"model"`
}

// TransportKind selects how an MCP server is reached.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportSSE            TransportKind = "sse"
	TransportStreamableHTTP TransportKind = "streamable-http"
)

// ServerDescriptor declares one MCP server. The key it is stored under in
// Config.MCPServers is its identity; Name is only a display label.
type ServerDescriptor struct {
	Name      string            `json:"name,omitempty" yaml:"name,omitempty"`
	Transport TransportKind     `json:"transport" yaml:"transport"`
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"-"`
	Cwd       string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	URL       string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"-"`
	Version   string            `json:"version,omitempty" yaml:"version,omitempty"`
	// Timeout bounds the handshake and each tool call, in milliseconds.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Serve configures `hanabi serve`.
type Serve struct {
	Port    int      `json:"port,omitempty" yaml:"port,omitempty"`
	MCPKeys []string `json:"mcpKeys,omitempty" yaml:"mcpKeys,omitempty"`
}

// Strategy is the multi-agent dispatch strategy.
type Strategy string

const (
	StrategyRouting  Strategy = "routing"
	StrategyWorkflow Strategy = "workflow"
	StrategyParallel Strategy = "parallel"
)

// MultiAgents configures delegation to peer agents.
type MultiAgents struct {
	Strategy Strategy          `json:"strategy" yaml:"strategy"`
	Agents   []AgentDescriptor `json:"agents" yaml:"agents"`
	// Force drops the local fallback from routing classification.
	Force bool `json:"force,omitempty" yaml:"force,omitempty"`
}

// AgentDescriptor is a remote peer agent. Classification is the routing
// label; for the workflow strategy the position in Agents is the step order.
type AgentDescriptor struct {
	Name           string            `json:"name" yaml:"name"`
	APIURL         string            `json:"apiUrl,omitempty" yaml:"apiUrl,omitempty"`
	Classification string            `json:"classification,omitempty" yaml:"classification,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"-"`
}
