// Package worker drives the claim-and-remediate loop. A single loop owns
// one working copy and processes approved issues one at a time.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/store"
)

// Runner executes the remediation pipeline for one claimed issue.
type Runner interface {
	Run(ctx context.Context, issue *models.Issue) error
}

// Config holds loop tuning. Zero sleeps fall back to defaults; a zero
// MaxAttempts means issues can be re-approved indefinitely.
type Config struct {
	WorkerID    string
	IdleSleep   time.Duration
	ErrorSleep  time.Duration
	MaxAttempts int
}

const (
	defaultIdleSleep  = 5 * time.Second
	defaultErrorSleep = 15 * time.Second
)

// Loop polls the store for approved issues and runs the pipeline on each
// claim. It never exits because of a single issue failing; only context
// cancellation stops it.
type Loop struct {
	store    store.Store
	pipeline Runner
	cfg      Config
	log      *slog.Logger
}

func New(s store.Store, p Runner, cfg Config, log *slog.Logger) *Loop {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	if cfg.ErrorSleep <= 0 {
		cfg.ErrorSleep = defaultErrorSleep
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{store: s, pipeline: p, cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("worker started", "worker", l.cfg.WorkerID)
	for {
		if err := ctx.Err(); err != nil {
			l.log.Info("worker stopping", "worker", l.cfg.WorkerID)
			return err
		}

		issue, err := l.store.ClaimIssue(ctx, l.cfg.WorkerID)
		if err != nil {
			l.log.Error("claim failed", "error", err)
			if !l.sleep(ctx, l.cfg.ErrorSleep) {
				return ctx.Err()
			}
			continue
		}
		if issue == nil {
			if !l.sleep(ctx, l.cfg.IdleSleep) {
				return ctx.Err()
			}
			continue
		}

		if l.cfg.MaxAttempts > 0 && issue.AttemptCount > l.cfg.MaxAttempts {
			msg := fmt.Sprintf("attempt limit reached (%d)", l.cfg.MaxAttempts)
			l.log.Warn("issue over attempt limit", "issue", issue.ID, "attempts", issue.AttemptCount)
			if _, err := l.store.MarkIssueFailed(ctx, issue.ID, msg); err != nil {
				l.log.Error("record attempt-limit failure", "issue", issue.ID, "error", err)
			}
			continue
		}

		l.log.Info("claimed issue", "issue", issue.ID, "title", issue.Title, "attempt", issue.AttemptCount)
		if err := l.pipeline.Run(ctx, issue); err != nil {
			// The pipeline already tried to record the failure; this error
			// means even that write failed. Back off and keep going.
			l.log.Error("pipeline error", "issue", issue.ID, "error", err)
			if !l.sleep(ctx, l.cfg.ErrorSleep) {
				return ctx.Err()
			}
		}
	}
}

// sleep waits for d or until ctx is cancelled. Returns false on cancel.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
