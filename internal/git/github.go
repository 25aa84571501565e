package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// HostClient wraps the PR-hosting CLI used to open pull requests.
type HostClient interface {
	// CreatePR opens a pull request for head against base and returns its URL.
	CreatePR(ctx context.Context, path, head, base, title, body string) (string, error)
}

// RealHostClient implements HostClient using the gh CLI.
type RealHostClient struct{}

// NewHostClient returns a new RealHostClient.
func NewHostClient() *RealHostClient {
	return &RealHostClient{}
}

func ghCmd(ctx context.Context, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = path
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *RealHostClient) CreatePR(ctx context.Context, path, head, base, title, body string) (string, error) {
	out, err := ghCmd(ctx, path,
		"pr", "create",
		"--head", head,
		"--base", base,
		"--title", title,
		"--body", body,
	)
	if err != nil {
		return "", err
	}
	return ExtractPRURL(out), nil
}

// ExtractPRURL returns the first line of CLI output containing an http(s)
// URL. gh prints progress lines before the PR link, so a plain first-line
// read is not enough. Falls back to the raw output when no line matches.
func ExtractPRURL(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
			return line
		}
	}
	return strings.TrimSpace(out)
}
