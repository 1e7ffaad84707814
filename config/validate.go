package config

import (
	"fmt"
	"sort"

	"github.com/spetersoncode/hanabi"
)

// Validate checks the configuration for entries that cannot work. It
// reports the first problem as a *hanabi.ConfigurationError.
func (c *Config) Validate() error {
	for i, l := range c.LLMs {
		if !l.Provider.Valid() {
			return &hanabi.ConfigurationError{Field: fmt.Sprintf("llms[%d].provider", i), Msg: fmt.Sprintf("unknown provider %q", l.Provider)}
		}
		if (l.Provider == hanabi.ProviderAzure || l.Provider == hanabi.ProviderOpenAICompatible) && l.APIURL == "" {
			return &hanabi.ConfigurationError{Field: fmt.Sprintf("llms[%d].apiUrl", i), Msg: fmt.Sprintf("%s requires an apiUrl", l.Provider)}
		}
	}

	if c.DefaultModel != nil {
		if _, ok := c.FindLLM(c.DefaultModel.Provider); !ok {
			return &hanabi.ConfigurationError{Field: "defaultModel.provider", Msg: fmt.Sprintf("no llms entry for %q", c.DefaultModel.Provider)}
		}
	}

	keys := make([]string, 0, len(c.MCPServers))
	for k := range c.MCPServers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.MCPServers[k].Validate(k); err != nil {
			return err
		}
	}

	if c.MultiAgents != nil {
		if err := c.MultiAgents.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks one MCP server entry stored under key.
func (d ServerDescriptor) Validate(key string) error {
	field := "mcpServers." + key
	switch d.Transport {
	case TransportStdio:
		if d.Command == "" {
			return &hanabi.ConfigurationError{Field: field + ".command", Msg: "stdio servers need a command"}
		}
	case TransportSSE, TransportStreamableHTTP:
		if d.URL == "" {
			return &hanabi.ConfigurationError{Field: field + ".url", Msg: fmt.Sprintf("%s servers need a url", d.Transport)}
		}
	default:
		return &hanabi.ConfigurationError{Field: field + ".transport", Msg: fmt.Sprintf("unknown transport %q", d.Transport)}
	}
	return nil
}

// Validate checks the multi-agent section.
func (m *MultiAgents) Validate() error {
	switch m.Strategy {
	case StrategyRouting, StrategyWorkflow, StrategyParallel:
	default:
		return &hanabi.ConfigurationError{Field: "multiAgents.strategy", Msg: fmt.Sprintf("unknown strategy %q", m.Strategy)}
	}
	if len(m.Agents) == 0 {
		return &hanabi.ConfigurationError{Field: "multiAgents.agents", Msg: "missing worker agents"}
	}
	if m.Strategy == StrategyRouting {
		for _, a := range m.Agents {
			if a.Classification == "" {
				return &hanabi.ConfigurationError{Field: "multiAgents.agents." + a.Name + ".classification", Msg: "routing agents need a classification"}
			}
		}
	}
	return nil
}
