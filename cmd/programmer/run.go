package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"programmer/pkg/session"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent on a task",
		Long: `Run the agent until it replies without calling tools, or until the
configured time limit passes. When stdin is a terminal the agent then asks
for the next message; an empty line or EOF ends the session.

Without --prompt the task is read from the terminal, or from stdin when it
is not a terminal.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}
	cmd.Flags().StringP("prompt", "p", "", "Task for the agent")
	cmd.Flags().String("resume", "", "Resume a stored session by id")
	cmd.Flags().String("workdir", "", "Working directory for the local executor")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if dir, _ := cmd.Flags().GetString("workdir"); dir != "" {
		a.cfg.Executor.WorkDir = dir
	}
	prompt, _ := cmd.Flags().GetString("prompt")
	resume, _ := cmd.Flags().GetString("resume")

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.startMetrics(ctx); err != nil {
		return err
	}

	in := stdinInput(cmd.InOrStdin(), cmd.OutOrStdout())
	interactive := isTerminal(cmd.InOrStdin())
	if prompt == "" && resume == "" {
		if prompt, err = readPrompt(ctx, cmd.InOrStdin(), in, interactive); err != nil {
			return err
		}
	}
	if !interactive {
		in = nil
	}

	opts, err := a.sessionOptions(a.cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	var s *session.Session
	if resume != "" {
		s, err = session.Resume(ctx, opts, resume)
	} else {
		s, err = session.Start(ctx, opts, prompt)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Session %s\n", s.ID())

	loopErr := s.Loop(ctx, prompt, in)
	fmt.Fprintln(cmd.OutOrStdout())
	if err := s.Close(ctx); err != nil {
		a.logger.Warn("Failed to close session: %v", err)
	}
	if errors.Is(loopErr, context.Canceled) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted. Resume with: programmer run --resume %s\n", s.ID())
		return nil
	}
	return loopErr
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readPrompt gets the initial task from the user.
func readPrompt(ctx context.Context, r io.Reader, in session.Input, interactive bool) (string, error) {
	if interactive {
		prompt, err := in(ctx)
		if errors.Is(err, io.EOF) || (err == nil && prompt == "") {
			return "", fmt.Errorf("no task given")
		}
		return prompt, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read task from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no task given: pass --prompt or pipe the task on stdin")
	}
	return prompt, nil
}

// stdinInput reads one line per message after printing a prompt marker.
func stdinInput(r io.Reader, w io.Writer) session.Input {
	reader := bufio.NewReader(r)
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprint(w, "\n> ")
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "quit" {
			return "", io.EOF
		}
		return line, nil
	}
}
