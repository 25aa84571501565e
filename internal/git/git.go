package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client defines the version-control operations the remediation pipeline
// drives against its working copy. All methods take the working-copy path
// since a worker owns exactly one checkout.
type Client interface {
	Fetch(ctx context.Context, path string) error
	Checkout(ctx context.Context, path, branch string) error
	PullFFOnly(ctx context.Context, path string) error
	// CheckoutBranch creates or resets a branch (git checkout -B), so reruns
	// on the same record reuse and overwrite the same branch.
	CheckoutBranch(ctx context.Context, path, branch string) error
	// Status returns `git status --porcelain` output; empty means no diff.
	Status(ctx context.Context, path string) (string, error)
	AddAll(ctx context.Context, path string) error
	Commit(ctx context.Context, path, message string) error
	Push(ctx context.Context, path, branch string) error
	CurrentBranch(ctx context.Context, path string) (string, error)
	// RemoveStaleLock deletes a leftover index.lock from a crashed tool run.
	// Idempotent; never reports an error.
	RemoveStaleLock(path string)
}

// RealClient implements Client using real git commands.
type RealClient struct{}

// NewClient returns a new RealClient.
func NewClient() *RealClient {
	return &RealClient{}
}

func gitCmd(ctx context.Context, path string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", path}, args...)
	out, err := exec.CommandContext(ctx, "git", fullArgs...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealClient) Fetch(ctx context.Context, path string) error {
	_, err := gitCmd(ctx, path, "fetch")
	return err
}

func (c *RealClient) Checkout(ctx context.Context, path, branch string) error {
	_, err := gitCmd(ctx, path, "checkout", branch)
	return err
}

func (c *RealClient) PullFFOnly(ctx context.Context, path string) error {
	_, err := gitCmd(ctx, path, "pull", "--ff-only")
	return err
}

func (c *RealClient) CheckoutBranch(ctx context.Context, path, branch string) error {
	_, err := gitCmd(ctx, path, "checkout", "-B", branch)
	return err
}

func (c *RealClient) Status(ctx context.Context, path string) (string, error) {
	return gitCmd(ctx, path, "status", "--porcelain")
}

func (c *RealClient) AddAll(ctx context.Context, path string) error {
	_, err := gitCmd(ctx, path, "add", ".")
	return err
}

func (c *RealClient) Commit(ctx context.Context, path, message string) error {
	_, err := gitCmd(ctx, path, "commit", "-m", message)
	return err
}

func (c *RealClient) Push(ctx context.Context, path, branch string) error {
	_, err := gitCmd(ctx, path, "push", "-u", "origin", branch)
	return err
}

func (c *RealClient) CurrentBranch(ctx context.Context, path string) (string, error) {
	return gitCmd(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
}

func (c *RealClient) RemoveStaleLock(path string) {
	_ = os.Remove(filepath.Join(path, ".git", "index.lock"))
}
