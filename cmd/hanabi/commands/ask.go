package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the answer",
	Long: `Ask sends one question to the default model without tools or streaming
and prints the final answer.`,
	Example: `  hanabi ask "what is MCP?"
  hanabi ask -q "summarize the README"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, _ := cmd.Flags().GetString("question")
		if q == "" {
			q = strings.Join(args, " ")
		}
		if strings.TrimSpace(q) == "" {
			return errors.New("a question is required")
		}
		return ask(cmd.Context(), cmd.OutOrStdout(), q)
	},
}

func init() {
	askCmd.Flags().StringP("question", "q", "", "Question to ask")
}
