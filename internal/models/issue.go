package models

import "time"

// IssueStatus represents where an issue sits in the remediation lifecycle.
type IssueStatus string

const (
	IssueStatusReported   IssueStatus = "reported"
	IssueStatusApproved   IssueStatus = "approved"
	IssueStatusRejected   IssueStatus = "rejected"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusPRRaised   IssueStatus = "pr_raised"
	IssueStatusFailed     IssueStatus = "failed"

	// IssueStatusDone is reserved for a future post-merge transition.
	// No current operation produces it.
	IssueStatusDone IssueStatus = "done"
)

// transitions is the authoritative table of legal status moves.
// failed -> approved is the human re-approval retry lever; rejected,
// pr_raised, and done have no outgoing transitions.
var transitions = map[IssueStatus][]IssueStatus{
	IssueStatusReported:   {IssueStatusApproved, IssueStatusRejected},
	IssueStatusApproved:   {IssueStatusInProgress},
	IssueStatusInProgress: {IssueStatusPRRaised, IssueStatusFailed},
	IssueStatusFailed:     {IssueStatusApproved},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to IssueStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no automatic outgoing transition.
// failed is terminal but human-recoverable via re-approval.
func (s IssueStatus) IsTerminal() bool {
	switch s {
	case IssueStatusRejected, IssueStatusPRRaised, IssueStatusFailed, IssueStatusDone:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusReported, IssueStatusApproved, IssueStatusRejected,
		IssueStatusInProgress, IssueStatusPRRaised, IssueStatusFailed, IssueStatusDone:
		return true
	}
	return false
}

// Issue is the persisted unit of work tracked by the state machine.
type Issue struct {
	ID                 string
	Title              string
	Description        string
	SourceURL          string
	ManualInstructions string // operator/scanner hints passed verbatim to the fix prompt
	Status             IssueStatus
	PRURL              string // set only on pr_raised
	ErrorMessage       string // set only on failed, truncated by the store
	CreatedBy          string
	ApprovedBy         string
	ClaimedBy          string
	ClaimedAt          *time.Time
	AttemptCount       int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
