// Package tool holds the tool sets handed to the model during a turn.
//
// A Set maps tool names to Descriptors (definition plus handler). Sets are
// built fresh for each turn by merging the built-in tools with the tools of
// the selected MCP servers and are never mutated afterwards.
//
// # Merging
//
// Merge is left to right. On a name collision the later descriptor replaces
// the earlier one but keeps its position:
//
//	set := tool.Merge(
//	    tool.NewSet(tool.ShellCommand(dir)),
//	    fsTools,
//	    gitTools, // a "status" tool here replaces one from fsTools
//	)
//
// # Typed handlers
//
// Argument structs are reflected into JSON schemas with invopop/jsonschema:
//
//	type args struct {
//	    Path string `json:"path" jsonschema:"description=File to read"`
//	}
//	h := tool.Typed(func(ctx context.Context, a args) (string, error) { ... })
//
// # Built-in tools
//
//   - run-shell-command: runs a command through the shell
//   - format-answer: schema-only tool used to force a structured final answer
package tool
