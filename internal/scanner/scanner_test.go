package scanner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/mend/internal/llm"
	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/store"
)

type fakeDetector struct {
	out string
	err error
}

func (f *fakeDetector) Scan(ctx context.Context) (string, error) { return f.out, f.err }

type fakeExtractor struct {
	findings []llm.Finding
	err      error
	raw      string
}

func (f *fakeExtractor) ExtractFindings(ctx context.Context, raw string) ([]llm.Finding, error) {
	f.raw = raw
	return f.findings, f.err
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRun_ReportsFindings(t *testing.T) {
	s := newTestStore(t)
	ext := &fakeExtractor{findings: []llm.Finding{
		{Title: "Stale year in footer", Description: "Footer says 2023", SourceURL: "https://example.com/about", ManualInstructions: "bump to current year"},
		{Title: "Broken link", SourceURL: "https://example.com/docs"},
	}}
	sc := New(s, &fakeDetector{out: "raw scan text"}, ext, nil)

	created, err := sc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, "raw scan text", ext.raw)

	issues, err := s.ListIssues(context.Background(), store.IssueListFilter{})
	require.NoError(t, err)
	require.Len(t, issues, 2)
	for _, issue := range issues {
		assert.Equal(t, models.IssueStatusReported, issue.Status)
		assert.Equal(t, CreatedByScanner, issue.CreatedBy)
	}
}

func TestRun_SkipsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Already on file from a previous cycle, with different casing.
	existing := &models.Issue{Title: "stale YEAR in footer", SourceURL: "https://example.com/about"}
	require.NoError(t, s.CreateIssue(ctx, existing))

	ext := &fakeExtractor{findings: []llm.Finding{
		{Title: "Stale year in footer", SourceURL: "https://example.com/about"},
		{Title: "Stale year in footer", SourceURL: "https://example.com/contact"}, // different page, keep
	}}
	sc := New(s, &fakeDetector{out: "raw"}, ext, nil)

	created, err := sc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	issues, err := s.ListIssues(ctx, store.IssueListFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 2)
}

func TestRun_DuplicateWithinCycle(t *testing.T) {
	s := newTestStore(t)
	ext := &fakeExtractor{findings: []llm.Finding{
		{Title: "Broken link", SourceURL: "https://example.com/docs"},
		{Title: "Broken link", SourceURL: "https://example.com/docs"},
	}}
	sc := New(s, &fakeDetector{out: "raw"}, ext, nil)

	created, err := sc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestRun_SkipsEmptyTitle(t *testing.T) {
	s := newTestStore(t)
	ext := &fakeExtractor{findings: []llm.Finding{
		{Title: "  ", Description: "detector noise"},
		{Title: "Real finding"},
	}}
	sc := New(s, &fakeDetector{out: "raw"}, ext, nil)

	created, err := sc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestRun_ExtractionFailureWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ext := &fakeExtractor{err: errors.New("bad JSON")}
	sc := New(s, &fakeDetector{out: "raw"}, ext, nil)

	_, err := sc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract findings")

	issues, listErr := s.ListIssues(context.Background(), store.IssueListFilter{})
	require.NoError(t, listErr)
	assert.Empty(t, issues)
}

func TestRun_DetectorFailure(t *testing.T) {
	sc := New(newTestStore(t), &fakeDetector{err: errors.New("claude not found")}, &fakeExtractor{}, nil)
	_, err := sc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run detector")
}

func TestRun_EmptyScanOutput(t *testing.T) {
	ext := &fakeExtractor{}
	sc := New(newTestStore(t), &fakeDetector{out: "  \n"}, ext, nil)

	created, err := sc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Empty(t, ext.raw, "extractor must not run on empty output")
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "plain text", sanitize("  plain text  "))
	assert.Equal(t, "fenced", sanitize("```\nfenced\n```"))
	assert.Equal(t, "", sanitize("   "))
}
