// Package exec provides the execution contexts tools act through: a local
// directory driven by bash, and a remote sandbox container reached over HTTP.
package exec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"programmer/pkg/config"
)

// ExecutorType represents the type of executor.
type ExecutorType string

// Executor type constants.
const (
	ExecutorTypeLocal  ExecutorType = "local"
	ExecutorTypeRemote ExecutorType = "remote"
)

// ErrFileNotFound is wrapped by ReadFile when the path does not exist.
var ErrFileNotFound = errors.New("file not found")

// Executor is the capability set every tool uses to touch the workspace.
type Executor interface {
	// ReadFile returns the text content of path.
	ReadFile(ctx context.Context, path string) (string, error)

	// ReadBinary returns the raw bytes of path.
	ReadBinary(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the content of path.
	WriteFile(ctx context.Context, path, content string) error

	// ListDir returns the entry names under path; directories end in "/".
	ListDir(ctx context.Context, path string) ([]string, error)

	// RunCommand runs a shell command in the executor's working directory.
	RunCommand(ctx context.Context, command string) (Result, error)

	// ResolvePath maps a tool-visible path to the executor's own path.
	ResolvePath(path string) string

	// Name returns the executor type name for logging/debugging.
	Name() ExecutorType

	// Close releases whatever the executor holds.
	Close(ctx context.Context) error
}

// Result contains the result of command execution.
type Result struct {
	// Stdout contains the standard output.
	Stdout string

	// Stderr contains the standard error output.
	Stderr string

	// Output holds the interleaved streams when the executor cannot separate them.
	Output string

	// ExecutorUsed indicates which executor was used (for debugging)
	ExecutorUsed string

	// Duration is how long the command took to execute.
	Duration time.Duration

	// ExitCode is the exit code of the command.
	ExitCode int

	// Merged is true when only Output is populated.
	Merged bool
}

// New builds the executor selected by cfg. Remote executors are started
// against the configured image before being returned.
func New(ctx context.Context, cfg *config.ExecutorConfig) (Executor, error) {
	switch cfg.Type {
	case config.ExecutorLocal, "":
		dir := cfg.WorkDir
		if dir == "" {
			dir = "."
		}
		return NewLocalExec(dir, cfg.CommandTimeout())
	case config.ExecutorRemote:
		remote := NewRemoteExec(cfg.Remote.URL, cfg.Remote.WorkDir, WithTimeout(cfg.CommandTimeout()))
		if err := remote.Start(ctx, cfg.Remote.ImageID); err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("unknown executor type '%s'", cfg.Type)
	}
}

// With runs fn with ex and closes ex on every exit path, panics included.
// A close failure is reported when fn itself succeeded.
func With(ctx context.Context, ex Executor, fn func(Executor) error) (err error) {
	defer func() {
		closeErr := ex.Close(context.WithoutCancel(ctx))
		if closeErr != nil && err == nil {
			err = fmt.Errorf("failed to release %s executor: %w", ex.Name(), closeErr)
		}
	}()
	return fn(ex)
}

// shellQuote wraps s in single quotes for bash.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
