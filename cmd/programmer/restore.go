package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"programmer/pkg/snapshot"
)

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore SESSION|SNAPSHOT_JSON",
		Short: "Check out a snapshot",
		Long: `Check out the snapshot of a stored session's latest step, or a snapshot
key given as JSON, e.g. {"env_id":"git","snapshot_info":{"commit":"..."}}.

With --dest the snapshot is added as a detached worktree at that path;
otherwise the current checkout is switched to it. Restoring fails when the
repository's origin differs from the one recorded in the snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: runRestore,
	}
	cmd.Flags().String("dest", "", "Directory for a new worktree holding the snapshot")
	cmd.Flags().String("repo", ".", "Repository the snapshot was taken in")
	return cmd
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	key, err := resolveKey(cmd, a, args[0])
	if err != nil {
		return err
	}
	repo, _ := cmd.Flags().GetString("repo")
	dest, _ := cmd.Flags().GetString("dest")
	if err := snapshot.Restore(ctx, repo, key, dest); err != nil {
		return err
	}
	where := dest
	if where == "" {
		where = repo
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s into %s\n", key, where)
	return nil
}

// resolveKey accepts a snapshot key as JSON or a session id whose latest
// snapshot is looked up in the store.
func resolveKey(cmd *cobra.Command, a *app, arg string) (snapshot.Key, error) {
	if strings.HasPrefix(strings.TrimSpace(arg), "{") {
		return snapshot.ParseKey([]byte(arg))
	}
	if err := a.openStore(cmd.Context()); err != nil {
		return snapshot.Key{}, err
	}
	if a.store == nil {
		return snapshot.Key{}, fmt.Errorf("persistence is disabled: pass the snapshot key as JSON")
	}
	key, err := a.store.LatestSnapshot(cmd.Context(), arg)
	if err != nil {
		return snapshot.Key{}, err
	}
	if key.IsZero() {
		return snapshot.Key{}, fmt.Errorf("session %s has no snapshots", arg)
	}
	return key, nil
}
