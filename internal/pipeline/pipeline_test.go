package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/store"
)

// fakeGit records calls and returns scripted results.
type fakeGit struct {
	calls      []string
	statusOut  string
	failOn     string // method name that should return an error
	lockSwept  bool
	pushFails  int // number of leading Push calls that fail
	pushCalled int
}

func (f *fakeGit) record(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return fmt.Errorf("%s: scripted failure", name)
	}
	return nil
}

func (f *fakeGit) Fetch(ctx context.Context, path string) error { return f.record("fetch") }
func (f *fakeGit) Checkout(ctx context.Context, path, branch string) error {
	return f.record("checkout " + branch)
}
func (f *fakeGit) PullFFOnly(ctx context.Context, path string) error { return f.record("pull") }
func (f *fakeGit) CheckoutBranch(ctx context.Context, path, branch string) error {
	return f.record("branch " + branch)
}
func (f *fakeGit) Status(ctx context.Context, path string) (string, error) {
	if err := f.record("status"); err != nil {
		return "", err
	}
	return f.statusOut, nil
}
func (f *fakeGit) AddAll(ctx context.Context, path string) error { return f.record("add") }
func (f *fakeGit) Commit(ctx context.Context, path, message string) error {
	return f.record("commit " + message)
}
func (f *fakeGit) Push(ctx context.Context, path, branch string) error {
	f.pushCalled++
	if f.pushCalled <= f.pushFails {
		f.calls = append(f.calls, "push-fail")
		return errors.New("push: connection reset")
	}
	return f.record("push " + branch)
}
func (f *fakeGit) CurrentBranch(ctx context.Context, path string) (string, error) {
	return "main", nil
}
func (f *fakeGit) RemoveStaleLock(path string) { f.lockSwept = true }

// fakeHost returns a scripted PR URL.
type fakeHost struct {
	url     string
	err     error
	created int
	head    string
	base    string
}

func (f *fakeHost) CreatePR(ctx context.Context, path, head, base, title, body string) (string, error) {
	f.created++
	f.head = head
	f.base = base
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

// fakeRunner pretends to be the remediation agent.
type fakeRunner struct {
	err    error
	prompt string
}

func (f *fakeRunner) Fix(ctx context.Context, workdir, instruction string) error {
	f.prompt = instruction
	return f.err
}

func newClaimedIssue(t *testing.T, s store.Store, title string) *models.Issue {
	t.Helper()
	ctx := context.Background()
	issue := &models.Issue{Title: title, Description: "desc", ManualInstructions: "hint"}
	require.NoError(t, s.CreateIssue(ctx, issue))
	_, err := s.ApproveIssue(ctx, issue.ID, "reviewer")
	require.NoError(t, err)
	claimed, err := s.ClaimIssue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newPipeline(s store.Store, g *fakeGit, h *fakeHost, r *fakeRunner) *Pipeline {
	cfg := Config{WorkDir: "/tmp/wc", BaseBranch: "main", StepTimeout: time.Second}
	return New(s, g, h, r, cfg, nil)
}

func TestRun_Success(t *testing.T) {
	s := newTestStore(t)
	issue := newClaimedIssue(t, s, "Stale year in footer")

	g := &fakeGit{statusOut: " M footer.html"}
	h := &fakeHost{url: "https://github.com/acme/site/pull/7"}
	r := &fakeRunner{}
	p := newPipeline(s, g, h, r)

	require.NoError(t, p.Run(context.Background(), issue))

	got, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusPRRaised, got.Status)
	assert.Equal(t, "https://github.com/acme/site/pull/7", got.PRURL)
	assert.Empty(t, got.ErrorMessage)

	// The agent saw the issue's instruction, not a bare title.
	assert.Contains(t, r.prompt, "Stale year in footer")
	assert.Contains(t, r.prompt, "hint")

	// Stale lock sweep runs before inspecting the working copy.
	assert.True(t, g.lockSwept)

	// PR opened from the deterministic branch against base.
	assert.Equal(t, BranchName(issue.ID), h.head)
	assert.Equal(t, "main", h.base)
}

func TestRun_NoDiffFails(t *testing.T) {
	s := newTestStore(t)
	issue := newClaimedIssue(t, s, "Nothing to do")

	g := &fakeGit{statusOut: ""}
	h := &fakeHost{url: "https://example.com/pr/1"}
	p := newPipeline(s, g, h, &fakeRunner{})

	require.NoError(t, p.Run(context.Background(), issue))

	got, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "No changes were produced")
	assert.Empty(t, got.PRURL)
	assert.Equal(t, 0, h.created, "no PR for a no-op run")
}

func TestRun_BaseSyncFailure(t *testing.T) {
	s := newTestStore(t)
	issue := newClaimedIssue(t, s, "Fetch breaks")

	g := &fakeGit{failOn: "fetch"}
	p := newPipeline(s, g, &fakeHost{}, &fakeRunner{})

	require.NoError(t, p.Run(context.Background(), issue))

	got, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "fetch")
}

func TestRun_AgentFailure(t *testing.T) {
	s := newTestStore(t)
	issue := newClaimedIssue(t, s, "Agent dies")

	g := &fakeGit{statusOut: " M x"}
	r := &fakeRunner{err: errors.New("remediation agent: exit status 1")}
	p := newPipeline(s, g, &fakeHost{}, r)

	require.NoError(t, p.Run(context.Background(), issue))

	got, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "remediation agent")
}

func TestRun_PushRetriesTransientFailure(t *testing.T) {
	s := newTestStore(t)
	issue := newClaimedIssue(t, s, "Flaky network")

	g := &fakeGit{statusOut: " M x", pushFails: 2}
	h := &fakeHost{url: "https://example.com/pr/9"}
	p := newPipeline(s, g, h, &fakeRunner{})

	require.NoError(t, p.Run(context.Background(), issue))

	got, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusPRRaised, got.Status)
	assert.Equal(t, 3, g.pushCalled)
}

func TestRun_ErrorTruncated(t *testing.T) {
	s := newTestStore(t)
	issue := newClaimedIssue(t, s, "Giant error")

	r := &fakeRunner{err: errors.New(strings.Repeat("boom ", 1000))}
	p := newPipeline(s, &fakeGit{}, &fakeHost{}, r)

	require.NoError(t, p.Run(context.Background(), issue))

	got, err := s.GetIssue(context.Background(), issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusFailed, got.Status)
	assert.LessOrEqual(t, len(got.ErrorMessage), store.MaxErrorMessageLen)
}

func TestRun_ReapprovedRerunReusesBranch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	issue := newClaimedIssue(t, s, "Retry same branch")

	// First run: agent makes no changes.
	g1 := &fakeGit{statusOut: ""}
	p1 := newPipeline(s, g1, &fakeHost{}, &fakeRunner{})
	require.NoError(t, p1.Run(ctx, issue))

	_, err := s.ApproveIssue(ctx, issue.ID, "reviewer")
	require.NoError(t, err)
	reclaimed, err := s.ClaimIssue(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, issue.ID, reclaimed.ID)

	// Second run on the same record: same deterministic branch, still no
	// diff, so it fails again without opening a duplicate PR.
	g2 := &fakeGit{statusOut: ""}
	h2 := &fakeHost{url: "https://example.com/pr/1"}
	p2 := newPipeline(s, g2, h2, &fakeRunner{})
	require.NoError(t, p2.Run(ctx, reclaimed))

	branch := "branch " + BranchName(issue.ID)
	assert.Contains(t, g1.calls, branch)
	assert.Contains(t, g2.calls, branch)
	assert.Equal(t, 0, h2.created)

	got, err := s.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusFailed, got.Status)
}

func TestBranchName_Deterministic(t *testing.T) {
	assert.Equal(t, "auto/01htestulid", BranchName("01HTESTULID"))
	assert.Equal(t, BranchName("ABC"), BranchName("ABC"))
}
