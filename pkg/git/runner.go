// Package git runs git commands on behalf of the snapshot layer.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"programmer/pkg/logx"
)

// Runner abstracts git invocation for testability.
type Runner interface {
	// Run executes git with args in dir and returns trimmed stdout. Extra
	// environment entries in env are appended to the process environment.
	Run(ctx context.Context, dir string, env []string, args ...string) (string, error)
	// RunQuiet is Run with failures logged at debug level. Use it for probes
	// that are expected to fail, like checking whether a ref exists.
	RunQuiet(ctx context.Context, dir string, env []string, args ...string) (string, error)
}

// CommandError is returned when git exits unsuccessfully.
type CommandError struct {
	Err    error
	Args   []string
	Dir    string
	Output string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s failed in %s: %v\nOutput: %s", strings.Join(e.Args, " "), e.Dir, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns git's exit status, or -1 if git never ran.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// DefaultRunner shells out to the git binary on PATH.
type DefaultRunner struct {
	logger *logx.Logger
}

// NewDefaultRunner creates a runner that executes the real git binary.
func NewDefaultRunner() *DefaultRunner {
	return &DefaultRunner{logger: logx.NewLogger("git")}
}

// Run implements Runner.
func (g *DefaultRunner) Run(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	return g.run(ctx, dir, env, false, args...)
}

// RunQuiet implements Runner.
func (g *DefaultRunner) RunQuiet(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	return g.run(ctx, dir, env, true, args...)
}

func (g *DefaultRunner) run(ctx context.Context, dir string, env []string, quiet bool, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	logDir := dir
	if logDir == "" {
		logDir = "."
	}
	cmdDesc := strings.Join(args, " ")
	g.logger.Debug("Executing Git command: cd %s && git %s", logDir, cmdDesc)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(stderr.String())
		if quiet {
			g.logger.Debug("Git command failed (expected): %s (exit status: %v)", cmdDesc, err)
		} else {
			g.logger.Error("Git command failed: %s (exit status: %v)", cmdDesc, err)
			g.logger.Error("Git output: %s", output)
		}
		return "", &CommandError{Args: args, Dir: logDir, Err: err, Output: output}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsRepo reports whether dir is inside a git work tree and returns its root.
func IsRepo(ctx context.Context, r Runner, dir string) (string, bool) {
	root, err := r.RunQuiet(ctx, dir, nil, "rev-parse", "--show-toplevel")
	if err != nil || root == "" {
		return "", false
	}
	return root, true
}
