package exec

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalExec executes commands and file operations inside a local directory
// without sandboxing.
type LocalExec struct {
	dir     string
	timeout time.Duration
}

// NewLocalExec creates a LocalExec rooted at dir. A zero timeout leaves
// commands bounded only by the caller's context.
func NewLocalExec(dir string, timeout time.Duration) (*LocalExec, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("working directory does not exist: %s", abs)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory is not a directory: %s", abs)
	}
	return &LocalExec{dir: abs, timeout: timeout}, nil
}

// Dir returns the absolute working directory.
func (e *LocalExec) Dir() string {
	return e.dir
}

// Name returns the executor type name.
func (e *LocalExec) Name() ExecutorType {
	return ExecutorTypeLocal
}

// ResolvePath joins relative paths onto the working directory.
func (e *LocalExec) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.dir, path)
}

// ReadFile reads a text file relative to the working directory.
func (e *LocalExec) ReadFile(ctx context.Context, path string) (string, error) {
	data, err := e.ReadBinary(ctx, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadBinary reads raw bytes relative to the working directory.
func (e *LocalExec) ReadBinary(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(e.ResolvePath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes content, creating parent directories as needed.
func (e *LocalExec) WriteFile(_ context.Context, path, content string) error {
	full := e.ResolvePath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ListDir lists a directory, sorted, with directories suffixed by "/".
func (e *LocalExec) ListDir(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(e.ResolvePath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RunCommand runs command with bash -c in the working directory.
func (e *LocalExec) RunCommand(ctx context.Context, command string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, fmt.Errorf("command cannot be empty")
	}

	startTime := time.Now()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, "bash", "-c", command)
	execCmd.Dir = e.dir

	stdout, stderr, exitCode, err := e.executeCommand(execCmd)

	result := Result{
		ExitCode:     exitCode,
		Stdout:       stdout,
		Stderr:       stderr,
		Duration:     time.Since(startTime),
		ExecutorUsed: string(e.Name()),
	}
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("command interrupted: %w", ctx.Err())
	}

	// A non-zero exit code is not an error; callers inspect ExitCode.
	return result, err
}

// executeCommand runs the command and captures output.
func (e *LocalExec) executeCommand(cmd *exec.Cmd) (stdout, stderr string, exitCode int, err error) {
	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
			err = nil
		} else {
			exitCode = -1
		}
	}

	return stdout, stderr, exitCode, err
}

// Close is a no-op; the directory outlives the executor.
func (e *LocalExec) Close(context.Context) error {
	return nil
}
