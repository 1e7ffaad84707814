package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spetersoncode/hanabi/config"
)

var listOutput string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the active configuration",
	Long: `List prints the configured LLMs with their keys masked, the default
model, the MCP servers and the multi-agent setup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return writeListing(cmd.OutOrStdout(), newListing(paths, cfg), listOutput)
	},
}

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "text", "Output format (text|json|yaml)")
}

type llmEntry struct {
	Provider string `json:"provider" yaml:"provider"`
	APIKey   string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	APIURL   string `json:"apiUrl,omitempty" yaml:"apiUrl,omitempty"`
}

type listing struct {
	File         string               `json:"file,omitempty" yaml:"file,omitempty"`
	LLMs         []llmEntry           `json:"llms" yaml:"llms"`
	DefaultModel *config.DefaultModel `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	MCPServers   []string             `json:"mcpServers" yaml:"mcpServers"`
	Strategy     string               `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Agents       []string             `json:"agents,omitempty" yaml:"agents,omitempty"`
}

func newListing(paths config.Paths, cfg *config.Config) listing {
	l := listing{DefaultModel: cfg.DefaultModel, MCPServers: []string{}}
	if paths.Exists() {
		l.File = paths.Active()
	}
	for _, llm := range cfg.LLMs {
		l.LLMs = append(l.LLMs, llmEntry{
			Provider: llm.Provider.String(),
			APIKey:   maskKey(llm.APIKey),
			APIURL:   llm.APIURL,
		})
	}
	for key := range cfg.MCPServers {
		l.MCPServers = append(l.MCPServers, key)
	}
	slices.Sort(l.MCPServers)
	if ma := cfg.MultiAgents; ma != nil {
		l.Strategy = string(ma.Strategy)
		for _, a := range ma.Agents {
			l.Agents = append(l.Agents, a.Name)
		}
	}
	return l
}

// maskKey keeps the first three and last four characters of long keys.
func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 10:
		return "****"
	default:
		return key[:3] + "..." + key[len(key)-4:]
	}
}

func writeListing(w io.Writer, l listing, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(l)
	case "text", "":
		writeText(w, l)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func writeText(w io.Writer, l listing) {
	heading := color.New(color.Bold)
	muted := color.New(color.Faint)

	if l.File != "" {
		muted.Fprintf(w, "config: %s\n\n", l.File)
	} else {
		muted.Fprintln(w, "config: built-in defaults")
		fmt.Fprintln(w)
	}

	heading.Fprintln(w, "LLMs")
	if len(l.LLMs) == 0 {
		muted.Fprintln(w, "  none")
	}
	for _, llm := range l.LLMs {
		fmt.Fprintf(w, "  %-18s", llm.Provider)
		if llm.APIKey != "" {
			fmt.Fprintf(w, " key=%s", llm.APIKey)
		}
		if llm.APIURL != "" {
			fmt.Fprintf(w, " url=%s", llm.APIURL)
		}
		fmt.Fprintln(w)
	}

	heading.Fprintln(w, "Default model")
	if l.DefaultModel != nil {
		fmt.Fprintf(w, "  %s/%s\n", l.DefaultModel.Provider, l.DefaultModel.Model)
	} else {
		muted.Fprintln(w, "  none")
	}

	heading.Fprintln(w, "MCP servers")
	if len(l.MCPServers) == 0 {
		muted.Fprintln(w, "  none")
	}
	for _, key := range l.MCPServers {
		fmt.Fprintf(w, "  %s\n", key)
	}

	if l.Strategy != "" {
		heading.Fprintln(w, "Multi-agents")
		fmt.Fprintf(w, "  strategy: %s\n", l.Strategy)
		for _, name := range l.Agents {
			fmt.Fprintf(w, "  - %s\n", name)
		}
	}
}
