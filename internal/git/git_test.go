package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initTestRepo creates a git repo in dir with a user config so commits work on CI.
func initTestRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "-C", dir, "init", "-b", "main"},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		require.NoError(t, exec.Command(args[0], args[1:]...).Run())
	}
}

func TestStatus_CleanAndDirty(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "init").Run())

	c := NewClient()
	ctx := context.Background()

	out, err := c.Status(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, out)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hello\n"), 0644))
	out, err = c.Status(ctx, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "file.txt")
}

func TestCheckoutBranch_ResetsExisting(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "init").Run())

	c := NewClient()
	ctx := context.Background()

	// First checkout creates the branch.
	require.NoError(t, c.CheckoutBranch(ctx, dir, "auto/test-branch"))
	branch, err := c.CurrentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "auto/test-branch", branch)

	// Diverge the branch, then -B from main should reset it.
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "stale").Run())
	require.NoError(t, c.Checkout(ctx, dir, "main"))
	require.NoError(t, c.CheckoutBranch(ctx, dir, "auto/test-branch"))

	out, err := gitCmd(ctx, dir, "log", "-1", "--format=%s")
	require.NoError(t, err)
	assert.Equal(t, "init", out, "checkout -B should discard the stale commit")
}

func TestAddAllCommit(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "init").Run())

	c := NewClient()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fix.txt"), []byte("fixed\n"), 0644))
	require.NoError(t, c.AddAll(ctx, dir))
	require.NoError(t, c.Commit(ctx, dir, "auto-fix: test commit"))

	out, err := gitCmd(ctx, dir, "log", "-1", "--format=%s")
	require.NoError(t, err)
	assert.Equal(t, "auto-fix: test commit", out)

	st, err := c.Status(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, st)
}

func TestCommit_FailsSurfacesStderr(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)

	c := NewClient()
	// Nothing staged, nothing committed yet: commit fails.
	err := c.Commit(context.Background(), dir, "empty")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "git commit")
}

func TestRemoveStaleLock(t *testing.T) {
	dir := t.TempDir()
	initTestRepo(t, dir)

	lock := filepath.Join(dir, ".git", "index.lock")
	require.NoError(t, os.WriteFile(lock, []byte(""), 0644))

	c := NewClient()
	c.RemoveStaleLock(dir)
	_, err := os.Stat(lock)
	assert.True(t, os.IsNotExist(err))

	// Idempotent: no lock present is fine too.
	c.RemoveStaleLock(dir)
}

func TestExtractPRURL(t *testing.T) {
	out := "Creating pull request for auto/01abc into main\n\nhttps://github.com/acme/site/pull/7\n"
	assert.Equal(t, "https://github.com/acme/site/pull/7", ExtractPRURL(out))
}

func TestExtractPRURL_FallbackRaw(t *testing.T) {
	assert.Equal(t, "pull request created", ExtractPRURL("pull request created\n"))
}

func TestExtractPRURL_FirstURLLineWins(t *testing.T) {
	out := "see https://github.com/acme/site/pull/7\nhttps://github.com/acme/site/pull/8\n"
	assert.Equal(t, "see https://github.com/acme/site/pull/7", ExtractPRURL(out))
}
