// Package commands provides the hanabi CLI commands.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/internal/logging"
	"github.com/spetersoncode/hanabi/internal/repl"
	"github.com/spetersoncode/hanabi/mcp"
)

// Version is set at build time.
var Version = "dev"

var (
	printLogs bool
	logLevel  string
	question  string
)

var rootCmd = &cobra.Command{
	Use:   "hanabi",
	Short: "Chat with LLMs using MCP tools and peer agents",
	Long: `hanabi is a terminal chat client for LLMs. It connects to the MCP servers
listed in .hanabi.json, can route turns to peer agents, and serves the same
conversation loop over HTTP with 'hanabi serve'.

Run 'hanabi' for an interactive chat or 'hanabi -q "question"' for a single
answer. Piped input is read as the question.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	RunE:              runChat,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print human-readable logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR|OFF)")
	rootCmd.Flags().StringVarP(&question, "question", "q", "", "Ask a single question and exit")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging initializes logging before any command runs. Logs always go
// to stderr: stdout carries the chat and, for `hanabi mcp`, the protocol.
func setupLogging(cmd *cobra.Command, args []string) error {
	fallback := logging.WarnLevel
	if cmd.Name() == serveCmd.Name() {
		fallback = logging.InfoLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(logLevel, fallback),
		Output: os.Stderr,
		Pretty: printLogs,
	})
	return nil
}

// loadConfig loads .env and the configuration, validates it and exports
// provider keys to the environment.
func loadConfig() (config.Paths, *config.Config, error) {
	log := logging.Component("cli")
	if err := config.LoadDotEnv(config.WorkDir()); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}

	paths := config.DefaultPaths()
	cfg, err := paths.Load()
	if err != nil {
		return paths, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return paths, nil, fmt.Errorf("invalid config %s: %w", paths.Active(), err)
	}
	cfg.PopulateEnv()
	return paths, cfg, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	q := question
	if q == "" && !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		q = strings.TrimSpace(string(data))
	}
	if q != "" {
		return ask(cmd.Context(), cmd.OutOrStdout(), q)
	}

	paths, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry := mcp.NewRegistry(cfg.MCPServers)
	stop := registry.CloseOnSignal()
	defer stop()
	defer registry.CloseAll()

	return repl.New(paths, cfg, registry).Run(cmd.Context(), os.Stdin)
}

func ask(ctx context.Context, w io.Writer, q string) error {
	paths, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	answer, err := repl.New(paths, cfg, nil, repl.WithOutput(io.Discard)).Ask(ctx, q)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, answer)
	return nil
}
