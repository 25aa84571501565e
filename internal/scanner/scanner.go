// Package scanner turns detector output into reported issue records.
// A scan cycle runs the detector, asks the LLM to structure its raw
// output, and inserts any findings not already on file.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/joescharf/mend/internal/llm"
	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/store"
)

// CreatedByScanner marks records inserted by a scan cycle.
const CreatedByScanner = "scanner"

// Detector produces raw scan output describing observed problems.
type Detector interface {
	Scan(ctx context.Context) (string, error)
}

// Extractor structures raw scan output into findings.
type Extractor interface {
	ExtractFindings(ctx context.Context, raw string) ([]llm.Finding, error)
}

// ClaudeDetector shells out to the claude CLI to inspect the target and
// report problems as free text.
type ClaudeDetector struct {
	WorkDir string
	Model   string
	Prompt  string
	Timeout time.Duration
}

const defaultScanPrompt = `Inspect this repository's content for problems a maintainer would want fixed:
broken links, stale dates, typos, placeholder text, and inconsistent naming.
For each problem, print one paragraph naming the file or URL and describing what is wrong.
Do not modify any files. If you find nothing, print "no findings".`

func NewClaudeDetector(workdir, model string, timeout time.Duration) *ClaudeDetector {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &ClaudeDetector{WorkDir: workdir, Model: model, Prompt: defaultScanPrompt, Timeout: timeout}
}

func (d *ClaudeDetector) Scan(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	args := []string{"-p", d.Prompt, "--permission-mode", "plan"}
	if d.Model != "" {
		args = append(args, "--model", d.Model)
	}
	cmd := exec.CommandContext(ctx, "claude", args...)
	cmd.Dir = d.WorkDir

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("scan agent timed out after %s", d.Timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("scan agent: %s: %w", msg, err)
		}
		return "", fmt.Errorf("scan agent: %w", err)
	}
	return out.String(), nil
}

// Scanner runs detection cycles against a store.
type Scanner struct {
	store     store.Store
	detector  Detector
	extractor Extractor
	log       *slog.Logger
}

func New(s store.Store, d Detector, e Extractor, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{store: s, detector: d, extractor: e, log: log}
}

// Run performs one scan cycle and returns the number of new issues
// reported. Extraction failure aborts the whole cycle; nothing is
// written in that case.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	raw, err := s.detector.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("run detector: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		s.log.Info("scan produced no output")
		return 0, nil
	}

	findings, err := s.extractor.ExtractFindings(ctx, raw)
	if err != nil {
		return 0, fmt.Errorf("extract findings: %w", err)
	}

	existing, err := s.store.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return 0, fmt.Errorf("list existing issues: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, issue := range existing {
		seen[dedupeKey(issue.Title, issue.SourceURL)] = true
	}

	created := 0
	for _, f := range findings {
		title := strings.TrimSpace(f.Title)
		if title == "" {
			s.log.Warn("skipping finding with empty title")
			continue
		}
		key := dedupeKey(title, f.SourceURL)
		if seen[key] {
			s.log.Debug("skipping duplicate finding", "title", title)
			continue
		}

		issue := &models.Issue{
			Title:              title,
			Description:        sanitize(f.Description),
			SourceURL:          strings.TrimSpace(f.SourceURL),
			ManualInstructions: sanitize(f.ManualInstructions),
			CreatedBy:          CreatedByScanner,
		}
		if err := s.store.CreateIssue(ctx, issue); err != nil {
			return created, fmt.Errorf("create issue %q: %w", title, err)
		}
		seen[key] = true
		created++
		s.log.Info("reported issue", "issue", issue.ID, "title", title)
	}
	return created, nil
}

// dedupeKey identifies a finding across scan cycles. Title comparison is
// case-insensitive since the LLM is not stable about capitalization.
func dedupeKey(title, sourceURL string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "|" + strings.TrimSpace(sourceURL)
}

// sanitize strips code fencing and trims detector artifacts from
// free-text fields before they are stored.
func sanitize(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
