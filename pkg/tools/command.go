package tools

import (
	"context"
	"fmt"
	"strings"

	"programmer/pkg/exec"
)

// LengthLimit caps each stream of tool output, in characters.
const LengthLimit = 10000

const truncationNotice = "\n... (truncated)"

// Truncate cuts s to LengthLimit characters and appends a notice.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= LengthLimit {
		return s
	}
	return string(runes[:LengthLimit]) + truncationNotice
}

type runCommandTool struct {
	ex exec.Executor
}

// NewRunCommandTool runs shell commands through ex.
func NewRunCommandTool(ex exec.Executor) Tool {
	return &runCommandTool{ex: ex}
}

func (t *runCommandTool) Definition() Definition {
	return Define(ToolRunCommand,
		"Run a shell command in the working directory and return its exit code and output.").
		String("command", "The bash command to run.", Required).
		Build()
}

func (t *runCommandTool) Exec(ctx context.Context, args map[string]any) (Result, error) {
	command, err := StringArg(args, "command")
	if err != nil {
		return Result{}, err
	}
	res, err := t.ex.RunCommand(ctx, command)
	if err != nil {
		return Result{}, err
	}
	return Text(FormatCommandResult(res)), nil
}

// FormatCommandResult renders a command result as
// "Exit code: N" followed by STDOUT and STDERR sections, or a single OUTPUT
// section when the executor merged the streams. Empty sections are omitted.
func FormatCommandResult(res exec.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Exit code: %d\n", res.ExitCode)
	section := func(title, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		fmt.Fprintf(&sb, "%s\n%s\n", title, Truncate(body))
	}
	if res.Merged {
		section("OUTPUT", res.Output)
	} else {
		section("STDOUT", res.Stdout)
		section("STDERR", res.Stderr)
	}
	return sb.String()
}
