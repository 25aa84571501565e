package agent

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// Runner is the remediation tool collaborator: it edits the working copy to
// address one issue's instruction. Success means exit code 0; the pipeline
// checks the working copy afterwards, it does not parse tool output.
type Runner interface {
	Fix(ctx context.Context, workdir, instruction string) error
}

// ClaudeRunner runs the claude CLI non-interactively against a working copy.
type ClaudeRunner struct {
	Model   string
	Timeout time.Duration
	// Output receives the streamed tool stdout/stderr. Nil discards it.
	Output io.Writer
}

// NewClaudeRunner creates a runner with the given model and per-run deadline.
func NewClaudeRunner(model string, timeout time.Duration) *ClaudeRunner {
	return &ClaudeRunner{Model: model, Timeout: timeout}
}

// Fix invokes claude with the instruction as a one-shot prompt. The run is
// bounded by the configured timeout so a hung tool cannot stall the worker
// forever.
func (r *ClaudeRunner) Fix(ctx context.Context, workdir, instruction string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	args := []string{"-p", instruction, "--permission-mode", "acceptEdits"}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}

	cmd := exec.CommandContext(ctx, "claude", args...)
	cmd.Dir = workdir
	if r.Output != nil {
		cmd.Stdout = r.Output
		cmd.Stderr = r.Output
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("remediation agent timed out after %s", r.Timeout)
		}
		return fmt.Errorf("remediation agent: %w", err)
	}
	return nil
}
