package snapshot

import (
	"context"
	"fmt"

	"programmer/pkg/git"
	"programmer/pkg/logx"
)

// DefaultBranchPrefix names session branches when no prefix is configured.
const DefaultBranchPrefix = "programmer-"

// Provider versions the workspace once per agent step.
type Provider interface {
	// StartSession prepares storage for sessionID. Resuming an existing
	// session is allowed.
	StartSession(ctx context.Context, sessionID string) error
	// Snapshot records the current workspace and returns its key.
	Snapshot(ctx context.Context, message string) (Key, error)
	// Close releases provider resources.
	Close() error
}

// NoopProvider records nothing. It is used outside git repositories and
// when snapshots are disabled.
type NoopProvider struct{}

// StartSession implements Provider.
func (NoopProvider) StartSession(context.Context, string) error { return nil }

// Snapshot implements Provider.
func (NoopProvider) Snapshot(context.Context, string) (Key, error) {
	return Key{Provider: ProviderNoop}, nil
}

// Close implements Provider.
func (NoopProvider) Close() error { return nil }

// GitProvider commits each snapshot to a per-session branch.
type GitProvider struct {
	repo   *Repo
	prefix string
	branch string
	origin string
}

// NewGitProvider creates a provider writing to branches named prefix+sessionID.
func NewGitProvider(repo *Repo, prefix string) *GitProvider {
	if prefix == "" {
		prefix = DefaultBranchPrefix
	}
	return &GitProvider{repo: repo, prefix: prefix}
}

// Repo returns the underlying repository.
func (p *GitProvider) Repo() *Repo { return p.repo }

// Branch returns the session branch, or "" before StartSession.
func (p *GitProvider) Branch() string { return p.branch }

// StartSession implements Provider.
func (p *GitProvider) StartSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	branch := p.prefix + sessionID
	if err := p.repo.StartSession(ctx, branch); err != nil {
		return err
	}
	p.branch = branch
	p.origin = p.repo.Origin(ctx)
	return nil
}

// Snapshot implements Provider.
func (p *GitProvider) Snapshot(ctx context.Context, message string) (Key, error) {
	if p.branch == "" {
		return Key{}, fmt.Errorf("snapshot taken before session start")
	}
	commit, err := p.repo.CommitToBranch(ctx, p.branch, message)
	if err != nil {
		return Key{}, err
	}
	return Key{Provider: ProviderGit, Info: Info{Origin: p.origin, Commit: commit}}, nil
}

// Close implements Provider.
func (p *GitProvider) Close() error { return nil }

// Option configures Detect.
type Option func(*options)

type options struct {
	runner git.Runner
	prefix string
}

// WithRunner overrides the git runner.
func WithRunner(r git.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithBranchPrefix sets the session branch prefix.
func WithBranchPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// Detect returns a GitProvider when enabled and dir lies inside a git work
// tree, and a NoopProvider otherwise.
func Detect(ctx context.Context, dir string, enabled bool, opts ...Option) Provider {
	o := options{prefix: DefaultBranchPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = git.NewDefaultRunner()
	}
	if !enabled {
		return NoopProvider{}
	}
	repo, err := OpenRepo(ctx, o.runner, dir)
	if err != nil {
		logx.Debug(ctx, "snapshot", "snapshots disabled: %v", err)
		return NoopProvider{}
	}
	return NewGitProvider(repo, o.prefix)
}

// Restore restores key using the repository containing dir.
func Restore(ctx context.Context, dir string, key Key, dest string, opts ...Option) error {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = git.NewDefaultRunner()
	}
	repo, err := OpenRepo(ctx, o.runner, dir)
	if err != nil {
		return err
	}
	return repo.Restore(ctx, key, dest)
}

// CommitMessage formats the commit message for a step.
func CommitMessage(sessionID string, step int) string {
	return fmt.Sprintf("programmer step %d (session %s)", step, sessionID)
}
