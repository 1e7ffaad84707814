// Command hanabi is a terminal chat client for LLMs with MCP tools and
// multi-agent dispatch. `hanabi serve` exposes the same turns over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spetersoncode/hanabi/cmd/hanabi/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
