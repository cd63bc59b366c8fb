// Command programmer runs an autonomous coding agent against a working
// directory, local or inside a sandbox container.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"programmer/pkg/version"
)

func main() {
	os.Exit(run())
}

// run executes the CLI and returns an exit code so deferred cleanup in
// commands completes before os.Exit.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "programmer",
		Short: "An autonomous coding agent",
		Long: `programmer edits code through open file buffers and shell commands,
snapshotting the working tree to a git branch after every step.

Examples:
  programmer run --prompt "make the tests pass"
  programmer run --resume 1a2b3c4d
  programmer sessions
  programmer restore 1a2b3c4d --dest ../inspect
  programmer batch tasks.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	cmd.SetVersionTemplate(version.String() + "\n")
	cmd.PersistentFlags().String("config", "", "Config file (.yaml, .yml or .json)")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newBatchCmd())
	return cmd
}
