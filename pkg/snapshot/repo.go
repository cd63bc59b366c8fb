package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"programmer/pkg/git"
	"programmer/pkg/logx"
)

// Identity used for snapshot commits when the repository has none configured.
const (
	defaultAuthorName  = "programmer"
	defaultAuthorEmail = "programmer@localhost"
)

//nolint:gochecknoglobals // process-wide commit serialization
var branchLocks sync.Map

func lockFor(root, branch string) *sync.Mutex {
	mu, _ := branchLocks.LoadOrStore(root+"\x00"+branch, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// OriginMismatchError is returned when a snapshot is restored into a clone
// of a different repository.
type OriginMismatchError struct {
	Expected string
	Actual   string
}

func (e *OriginMismatchError) Error() string {
	return fmt.Sprintf("snapshot origin %q does not match repository origin %q", e.Expected, e.Actual)
}

// Repo commits workspace snapshots to side branches of a git repository.
type Repo struct {
	runner git.Runner
	logger *logx.Logger
	root   string
}

// OpenRepo finds the work tree containing dir.
func OpenRepo(ctx context.Context, runner git.Runner, dir string) (*Repo, error) {
	root, ok := git.IsRepo(ctx, runner, dir)
	if !ok {
		return nil, fmt.Errorf("%s is not inside a git work tree", dir)
	}
	return &Repo{runner: runner, root: root, logger: logx.NewLogger("snapshot")}, nil
}

// Root returns the top-level directory of the work tree.
func (r *Repo) Root() string { return r.root }

// Origin returns the URL of the origin remote, or "" if there is none.
func (r *Repo) Origin(ctx context.Context) string {
	url, err := r.runner.RunQuiet(ctx, r.root, nil, "config", "--get", "remote.origin.url")
	if err != nil {
		return ""
	}
	return url
}

// StartSession creates branch from HEAD unless it already exists. The
// branch is never checked out.
func (r *Repo) StartSession(ctx context.Context, branch string) error {
	if _, err := r.resolve(ctx, branch); err == nil {
		r.logger.Debug("Resuming snapshot branch %s", branch)
		return nil
	}
	if _, err := r.runner.Run(ctx, r.root, nil, "branch", branch, "HEAD"); err != nil {
		return fmt.Errorf("failed to create snapshot branch %s: %w", branch, err)
	}
	r.logger.Info("📸 Created snapshot branch %s", branch)
	return nil
}

func (r *Repo) resolve(ctx context.Context, branch string) (string, error) {
	return r.runner.RunQuiet(ctx, r.root, nil, "rev-parse", "--verify", "refs/heads/"+branch+"^{commit}")
}

// CommitToBranch records the current contents of the work tree, including
// untracked files not ignored by .gitignore, as a new commit on branch. The
// user's index, HEAD and working files are left alone. When nothing changed
// since the branch tip, the tip's hash is returned and no commit is made.
func (r *Repo) CommitToBranch(ctx context.Context, branch, message string) (string, error) {
	mu := lockFor(r.root, branch)
	mu.Lock()
	defer mu.Unlock()

	parent, err := r.resolve(ctx, branch)
	if err != nil {
		return "", fmt.Errorf("snapshot branch %s does not exist: %w", branch, err)
	}

	indexDir, err := os.MkdirTemp("", "programmer-index-")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary index: %w", err)
	}
	defer func() { _ = os.RemoveAll(indexDir) }()
	env := []string{"GIT_INDEX_FILE=" + filepath.Join(indexDir, "index")}

	if _, err := r.runner.Run(ctx, r.root, env, "read-tree", parent); err != nil {
		return "", fmt.Errorf("failed to seed index from %s: %w", branch, err)
	}
	if _, err := r.runner.Run(ctx, r.root, env, "add", "-A"); err != nil {
		return "", fmt.Errorf("failed to stage work tree: %w", err)
	}
	tree, err := r.runner.Run(ctx, r.root, env, "write-tree")
	if err != nil {
		return "", fmt.Errorf("failed to write tree: %w", err)
	}
	parentTree, err := r.runner.Run(ctx, r.root, nil, "rev-parse", parent+"^{tree}")
	if err != nil {
		return "", fmt.Errorf("failed to read tree of %s: %w", parent, err)
	}
	if tree == parentTree {
		r.logger.Debug("No changes since %s on %s", short(parent), branch)
		return parent, nil
	}

	commit, err := r.runner.Run(ctx, r.root, append(env, r.identity(ctx)...),
		"commit-tree", tree, "-p", parent, "-m", message)
	if err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}
	if _, err := r.runner.Run(ctx, r.root, nil, "update-ref", "refs/heads/"+branch, commit, parent); err != nil {
		return "", fmt.Errorf("failed to advance %s: %w", branch, err)
	}
	r.logger.Info("📸 Snapshot %s on %s", short(commit), branch)
	return commit, nil
}

// identity supplies author and committer variables when the repository has
// no user.email configured, so commit-tree works on bare CI machines.
func (r *Repo) identity(ctx context.Context) []string {
	if email, err := r.runner.RunQuiet(ctx, r.root, nil, "config", "user.email"); err == nil && email != "" {
		return nil
	}
	return []string{
		"GIT_AUTHOR_NAME=" + defaultAuthorName,
		"GIT_AUTHOR_EMAIL=" + defaultAuthorEmail,
		"GIT_COMMITTER_NAME=" + defaultAuthorName,
		"GIT_COMMITTER_EMAIL=" + defaultAuthorEmail,
	}
}

// Restore checks out the snapshot identified by key. With a non-empty dest
// the commit is checked out into a new detached worktree there; otherwise
// the repository's own work tree is switched to it.
func (r *Repo) Restore(ctx context.Context, key Key, dest string) error {
	if key.Provider != ProviderGit {
		return fmt.Errorf("cannot restore snapshot from provider %q", key.Provider)
	}
	if key.Info.Commit == "" {
		return fmt.Errorf("snapshot key has no commit")
	}
	if origin := r.Origin(ctx); origin != key.Info.Origin {
		return &OriginMismatchError{Expected: key.Info.Origin, Actual: origin}
	}

	if dest == "" {
		if _, err := r.runner.Run(ctx, r.root, nil, "checkout", "--detach", key.Info.Commit); err != nil {
			return fmt.Errorf("failed to check out %s: %w", short(key.Info.Commit), err)
		}
	} else {
		abs, err := filepath.Abs(dest)
		if err != nil {
			return fmt.Errorf("invalid destination %s: %w", dest, err)
		}
		if _, err := r.runner.Run(ctx, r.root, nil, "worktree", "add", "--detach", abs, key.Info.Commit); err != nil {
			return fmt.Errorf("failed to create worktree at %s: %w", abs, err)
		}
	}
	r.logger.Info("Restored snapshot %s", short(key.Info.Commit))
	return nil
}

func short(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
