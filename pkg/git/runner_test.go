package git

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ctx := context.Background()
	dir := t.TempDir()
	r := NewDefaultRunner()

	_, ok := IsRepo(ctx, r, dir)
	assert.False(t, ok)

	_, err := r.Run(ctx, dir, nil, "init", "-q")
	require.NoError(t, err)
	root, ok := IsRepo(ctx, r, dir)
	require.True(t, ok)
	assert.NotEmpty(t, root)

	out, err := r.Run(ctx, dir, []string{"GIT_AUTHOR_NAME=Ada", "GIT_AUTHOR_EMAIL=ada@example.com"}, "var", "GIT_AUTHOR_IDENT")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada <ada@example.com>")

	_, err = r.RunQuiet(ctx, dir, nil, "rev-parse", "--verify", "refs/heads/nope")
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.NotZero(t, cmdErr.ExitCode())
	assert.Contains(t, cmdErr.Error(), "git rev-parse --verify refs/heads/nope failed in")
}
