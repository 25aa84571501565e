package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joescharf/mend/internal/agent"
	"github.com/joescharf/mend/internal/git"
	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/store"
)

// ErrNoChanges is the terminal failure message for a run where the
// remediation agent produced no working-copy diff. A no-op fix is a failure,
// not an empty success.
const ErrNoChanges = "No changes were produced by the remediation agent"

// pushRetries caps retry attempts for the network-facing push/PR steps.
const pushRetries = 3

// Config holds the pipeline's working-copy settings.
type Config struct {
	WorkDir    string
	BaseBranch string
	// StepTimeout bounds each version-control/PR-host call. Zero disables
	// the per-step deadline. The remediation agent carries its own timeout.
	StepTimeout time.Duration
}

// Pipeline runs the remediation sequence for one claimed issue at a time.
// It owns the working copy exclusively for the duration of a run.
type Pipeline struct {
	store  store.Store
	git    git.Client
	host   git.HostClient
	runner agent.Runner
	cfg    Config
	log    *slog.Logger
}

// New creates a pipeline with injected collaborators.
func New(s store.Store, gc git.Client, hc git.HostClient, r agent.Runner, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{store: s, git: gc, host: hc, runner: r, cfg: cfg, log: log}
}

// BranchName returns the deterministic working branch for an issue, so a
// re-approved record reuses and overwrites the same branch.
func BranchName(issueID string) string {
	return "auto/" + strings.ToLower(issueID)
}

// Run executes the remediation sequence and always leaves the issue in a
// terminal state. Expected step failures are recorded as a failed status;
// only the terminal store write's own error escapes to the caller.
func (p *Pipeline) Run(ctx context.Context, issue *models.Issue) error {
	prURL, err := p.execute(ctx, issue)
	if err != nil {
		p.log.Warn("pipeline failed", "issue", issue.ID, "error", err)
		if _, werr := p.store.MarkIssueFailed(ctx, issue.ID, err.Error()); werr != nil {
			return fmt.Errorf("record pipeline failure: %w", werr)
		}
		return nil
	}

	p.log.Info("pipeline succeeded", "issue", issue.ID, "pr_url", prURL)
	if _, werr := p.store.MarkIssuePRRaised(ctx, issue.ID, prURL); werr != nil {
		return fmt.Errorf("record pipeline success: %w", werr)
	}
	return nil
}

// execute runs steps 1-7 and returns the PR URL on success.
func (p *Pipeline) execute(ctx context.Context, issue *models.Issue) (string, error) {
	dir := p.cfg.WorkDir
	branch := BranchName(issue.ID)

	// Step 1: sync the base branch.
	if err := p.step(ctx, func(ctx context.Context) error { return p.git.Fetch(ctx, dir) }); err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	if err := p.step(ctx, func(ctx context.Context) error { return p.git.Checkout(ctx, dir, p.cfg.BaseBranch) }); err != nil {
		return "", fmt.Errorf("checkout %s: %w", p.cfg.BaseBranch, err)
	}
	if err := p.step(ctx, func(ctx context.Context) error { return p.git.PullFFOnly(ctx, dir) }); err != nil {
		return "", fmt.Errorf("pull %s: %w", p.cfg.BaseBranch, err)
	}

	// Step 2: create or reset the deterministic working branch.
	if err := p.step(ctx, func(ctx context.Context) error { return p.git.CheckoutBranch(ctx, dir, branch) }); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}

	// Step 3: let the remediation agent edit the working copy.
	p.log.Info("running remediation agent", "issue", issue.ID, "branch", branch)
	if err := p.runner.Fix(ctx, dir, agent.BuildFixPrompt(issue)); err != nil {
		return "", err
	}

	// Step 4: the agent may have died holding the index lock.
	p.git.RemoveStaleLock(dir)

	// Step 5: no diff means the agent did nothing actionable.
	status, err := p.git.Status(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return "", fmt.Errorf("%s", ErrNoChanges)
	}

	// Step 6: stage, commit, push.
	if err := p.step(ctx, func(ctx context.Context) error { return p.git.AddAll(ctx, dir) }); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	msg := fmt.Sprintf("auto-fix %s: %s", shortID(issue.ID), issue.Title)
	if err := p.step(ctx, func(ctx context.Context) error { return p.git.Commit(ctx, dir, msg) }); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	if err := p.retryStep(ctx, func(ctx context.Context) error { return p.git.Push(ctx, dir, branch) }); err != nil {
		return "", fmt.Errorf("push %s: %w", branch, err)
	}

	// Step 7: open the PR and extract its URL.
	title := fmt.Sprintf("Auto-fix: %s", issue.Title)
	body := buildPRBody(issue)
	prURL, err := backoff.RetryWithData(func() (string, error) {
		stepCtx, cancel := p.stepContext(ctx)
		defer cancel()
		return p.host.CreatePR(stepCtx, dir, branch, p.cfg.BaseBranch, title, body)
	}, p.newBackoff(ctx))
	if err != nil {
		return "", fmt.Errorf("create pull request: %w", err)
	}
	return prURL, nil
}

// step runs one external call under the per-step deadline.
func (p *Pipeline) step(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()
	return fn(stepCtx)
}

// retryStep is step with capped exponential backoff for transient network
// failures.
func (p *Pipeline) retryStep(ctx context.Context, fn func(context.Context) error) error {
	return backoff.Retry(func() error {
		return p.step(ctx, fn)
	}, p.newBackoff(ctx))
}

func (p *Pipeline) newBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, pushRetries), ctx)
}

func (p *Pipeline) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.StepTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.StepTimeout)
}

func buildPRBody(issue *models.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix for issue %s.\n\n", shortID(issue.ID))
	fmt.Fprintf(&b, "**%s**\n", issue.Title)
	if issue.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", issue.Description)
	}
	if issue.SourceURL != "" {
		fmt.Fprintf(&b, "\nLocation: %s\n", issue.SourceURL)
	}
	return b.String()
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
