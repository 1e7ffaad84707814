package commands

import (
	"github.com/spf13/cobra"

	"github.com/spetersoncode/hanabi/config"
	"github.com/spetersoncode/hanabi/mcp"
	"github.com/spetersoncode/hanabi/tool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the built-in tools as an MCP stdio server",
	Long: `Mcp exposes run-shell-command over stdin/stdout so other MCP clients can
use it. The command runs in $HANABI_PWD.

Example client configuration:

  "mcpServers": {
    "hanabi": {"transport": "stdio", "command": "hanabi", "args": ["mcp"]}
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		set := tool.NewSet(tool.ShellCommand(config.WorkDir()))
		return mcp.ServeStdio(set, mcp.WithName("hanabi"), mcp.WithVersion(Version))
	},
}
