package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programmer/pkg/git"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	args = append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-q")
	writeFile(t, dir, "README.md", "hello\n")
	writeFile(t, dir, ".gitignore", "*.log\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-qm", "init")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func startedProvider(t *testing.T, dir, session string) *GitProvider {
	t.Helper()
	p, ok := Detect(context.Background(), dir, true).(*GitProvider)
	require.True(t, ok)
	require.NoError(t, p.StartSession(context.Background(), session))
	return p
}

func TestCommitIsIdempotentAndLeavesCheckoutAlone(t *testing.T) {
	ctx := context.Background()
	dir := initRepo(t)
	head := gitCmd(t, dir, "rev-parse", "HEAD")
	p := startedProvider(t, dir, "s1")
	assert.Equal(t, "programmer-s1", p.Branch())

	writeFile(t, dir, "new.txt", "fresh\n")
	writeFile(t, dir, "README.md", "changed\n")
	writeFile(t, dir, "debug.log", "ignored\n")

	first, err := p.Snapshot(ctx, CommitMessage("s1", 1))
	require.NoError(t, err)
	assert.Equal(t, ProviderGit, first.Provider)
	assert.NotEqual(t, head, first.Info.Commit)

	second, err := p.Snapshot(ctx, CommitMessage("s1", 2))
	require.NoError(t, err)
	assert.Equal(t, first.Info.Commit, second.Info.Commit)

	assert.Equal(t, "fresh", gitCmd(t, dir, "show", "programmer-s1:new.txt"))
	assert.Equal(t, "changed", gitCmd(t, dir, "show", "programmer-s1:README.md"))
	assert.NotContains(t, gitCmd(t, dir, "ls-tree", "--name-only", "programmer-s1"), "debug.log")
	assert.Equal(t, head, gitCmd(t, dir, "rev-parse", "programmer-s1~1"))
	assert.Contains(t, gitCmd(t, dir, "log", "-1", "--format=%s", "programmer-s1"), "step 1 (session s1)")

	assert.Equal(t, head, gitCmd(t, dir, "rev-parse", "HEAD"))
	assert.NotEqual(t, "programmer-s1", gitCmd(t, dir, "rev-parse", "--abbrev-ref", "HEAD"))
	assert.Empty(t, gitCmd(t, dir, "diff", "--cached", "--name-only"))
	assert.Contains(t, gitCmd(t, dir, "status", "--porcelain"), "?? new.txt")
}

func TestStartSessionResumesExistingBranch(t *testing.T) {
	ctx := context.Background()
	dir := initRepo(t)
	p := startedProvider(t, dir, "s2")
	writeFile(t, dir, "a.txt", "a\n")
	key, err := p.Snapshot(ctx, "one")
	require.NoError(t, err)

	resumed := startedProvider(t, dir, "s2")
	again, err := resumed.Snapshot(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, key.Info.Commit, again.Info.Commit)
}

func TestSnapshotBeforeStart(t *testing.T) {
	dir := initRepo(t)
	p, ok := Detect(context.Background(), dir, true).(*GitProvider)
	require.True(t, ok)
	_, err := p.Snapshot(context.Background(), "x")
	assert.Error(t, err)
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	ctx := context.Background()
	dir := initRepo(t)
	p := startedProvider(t, dir, "s3")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		writeFile(t, dir, fmt.Sprintf("f%d.txt", i), "x\n")
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.repo.CommitToBranch(ctx, p.Branch(), fmt.Sprintf("commit %d", i))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	for i := range errs {
		assert.Equal(t, "x", gitCmd(t, dir, "show", fmt.Sprintf("programmer-s3:f%d.txt", i)))
	}
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	dir := initRepo(t)
	gitCmd(t, dir, "remote", "add", "origin", "https://example.com/repo.git")
	p := startedProvider(t, dir, "s4")
	writeFile(t, dir, "work.txt", "done\n")
	key, err := p.Snapshot(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/repo.git", key.Info.Origin)

	dest := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, Restore(ctx, dir, key, dest))
	data, err := os.ReadFile(filepath.Join(dest, "work.txt"))
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(data))

	foreign := key
	foreign.Info.Origin = "https://example.com/other.git"
	var mismatch *OriginMismatchError
	require.ErrorAs(t, Restore(ctx, dir, foreign, t.TempDir()), &mismatch)
	assert.Equal(t, "https://example.com/repo.git", mismatch.Actual)

	assert.Error(t, Restore(ctx, dir, Key{Provider: ProviderNoop}, ""))
}

func TestDetect(t *testing.T) {
	ctx := context.Background()
	assert.IsType(t, NoopProvider{}, Detect(ctx, t.TempDir(), true, WithRunner(git.NewDefaultRunner())))

	dir := initRepo(t)
	assert.IsType(t, NoopProvider{}, Detect(ctx, dir, false))
	p, ok := Detect(ctx, filepath.Join(dir), true, WithBranchPrefix("agent/")).(*GitProvider)
	require.True(t, ok)
	require.NoError(t, p.StartSession(ctx, "x"))
	assert.Equal(t, "agent/x", p.Branch())

	key, err := NoopProvider{}.Snapshot(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, Key{Provider: ProviderNoop}, key)
}

func TestKeyJSON(t *testing.T) {
	key := Key{Provider: ProviderGit, Info: Info{Commit: "abc"}}
	data, err := json.Marshal(key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"env_id":"git","snapshot_info":{"commit":"abc"}}`, string(data))

	parsed, err := ParseKey(data)
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseKey([]byte(`{"snapshot_info":{}}`))
	assert.Error(t, err)
	assert.True(t, Key{}.IsZero())
	assert.Equal(t, "git:abc", key.String())
}
