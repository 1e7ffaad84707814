package tool

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
)

// ShellCommandName is the name of the built-in shell tool.
const ShellCommandName = "run-shell-command"

// Builtin is the Descriptor source of tools defined in this package.
const Builtin = "builtin"

type shellArgs struct {
	Command string `json:"command" jsonschema:"description=The shell command to run."`
}

// ShellCommand returns the built-in tool that runs a command through the
// system shell in dir (the process working directory when empty).
//
// Output is stdout and stderr interleaved in arrival order. A non-zero exit
// status is not an error: the model reads the output like any other result.
func ShellCommand(dir string) Descriptor {
	return Descriptor{
		Tool: toolDef(ShellCommandName,
			"Run a shell command in the current working directory. Always ask user for confirmation before running.",
			MustSchemaFor[shellArgs]()),
		Handler: Typed(func(ctx context.Context, args shellArgs) (string, error) {
			return runShell(ctx, dir, args.Command)
		}),
		Source: Builtin,
	}
}

func runShell(ctx context.Context, dir, command string) (string, error) {
	name, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		name, flag = "cmd", "/C"
	}
	cmd := exec.CommandContext(ctx, name, flag, command)
	cmd.Dir = dir
	cmd.Env = os.Environ()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return out.String(), err
		}
	}
	return out.String(), nil
}
