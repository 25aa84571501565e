package store

import (
	"context"
	"errors"

	"github.com/joescharf/mend/internal/models"
)

// ErrEmptyTitle is returned by CreateIssue when the draft has no title.
var ErrEmptyTitle = errors.New("issue title must not be empty")

// ErrIllegalTransition is returned when a guarded status operation finds the
// record in a state the transition table does not allow it to leave.
var ErrIllegalTransition = errors.New("illegal status transition")

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	Status models.IssueStatus
}

// StatusCounts holds per-status record counts for the overview surfaces.
type StatusCounts map[models.IssueStatus]int

// Store defines the persistence interface for mend.
type Store interface {
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	UpdateIssue(ctx context.Context, issue *models.Issue) error

	// ApproveIssue moves a reported or failed issue into the claimable
	// backlog. Re-approving a failed issue clears its error message.
	ApproveIssue(ctx context.Context, id, approvedBy string) (*models.Issue, error)
	// RejectIssue terminally rejects a reported issue.
	RejectIssue(ctx context.Context, id string) (*models.Issue, error)

	// ClaimIssue atomically selects the oldest approved issue, moves it to
	// in_progress stamped with the worker identity, and returns it. Returns
	// (nil, nil) when no issue is eligible. Two concurrent callers never
	// receive the same issue.
	ClaimIssue(ctx context.Context, workerID string) (*models.Issue, error)

	// MarkIssuePRRaised and MarkIssueFailed are the worker's terminal writes.
	// Both release the claim. MarkIssueFailed truncates the message.
	MarkIssuePRRaised(ctx context.Context, id, prURL string) (*models.Issue, error)
	MarkIssueFailed(ctx context.Context, id, message string) (*models.Issue, error)

	CountIssuesByStatus(ctx context.Context) (StatusCounts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
