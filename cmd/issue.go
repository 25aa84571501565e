package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/output"
	"github.com/joescharf/mend/internal/store"
)

var (
	issueTitle       string
	issueDesc        string
	issueSourceURL   string
	issueInstruction string
	issueStatus      string
	issueApprovedBy  string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage the issue backlog",
	Long:  "Report, inspect, approve, and reject tracked issues.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Report a new issue",
	Long:  "Report a new issue. It enters the backlog as 'reported' and waits for approval.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueApproveCmd = &cobra.Command{
	Use:   "approve <issue-id>",
	Short: "Approve an issue for automated remediation",
	Long:  "Approve a reported or failed issue. The worker picks it up on its next poll.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueApproveRun(args[0])
	},
}

var issueRejectCmd = &cobra.Command{
	Use:   "reject <issue-id>",
	Short: "Reject a reported issue (terminal)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueRejectRun(args[0])
	},
}

func init() {
	issueAddCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueAddCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description")
	issueAddCmd.Flags().StringVar(&issueSourceURL, "url", "", "Page or file the problem was observed on")
	issueAddCmd.Flags().StringVar(&issueInstruction, "instructions", "", "Fix guidance for the remediation agent")
	_ = issueAddCmd.MarkFlagRequired("title")

	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: reported, approved, rejected, in_progress, pr_raised, failed, done")

	issueApproveCmd.Flags().StringVar(&issueApprovedBy, "by", "cli", "Who is approving")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueApproveCmd)
	issueCmd.AddCommand(issueRejectCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueAddRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue := &models.Issue{
		Title:              issueTitle,
		Description:        issueDesc,
		SourceURL:          issueSourceURL,
		ManualInstructions: issueInstruction,
		CreatedBy:          "cli",
	}

	if dryRun {
		ui.DryRunMsg("Would report issue: %s", issueTitle)
		return nil
	}

	if err := s.CreateIssue(ctx, issue); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	ui.Success("Reported issue %s: %s", output.Cyan(shortID(issue.ID)), issueTitle)
	return nil
}

func issueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.IssueListFilter{Status: models.IssueStatus(issueStatus)}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("unknown status: %s", issueStatus)
	}

	issues, err := s.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Attempts", "PR"})
	for _, issue := range issues {
		_ = table.Append([]string{
			shortID(issue.ID),
			issue.Title,
			output.StatusColor(string(issue.Status)),
			fmt.Sprintf("%d", issue.AttemptCount),
			issue.PRURL,
		})
	}
	_ = table.Render()
	return nil
}

func issueShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(issue.ID)), issue.Title)
	fmt.Fprintf(ui.Out, "  Status:       %s\n", output.StatusColor(string(issue.Status)))
	if issue.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:         %s\n", issue.Description)
	}
	if issue.SourceURL != "" {
		fmt.Fprintf(ui.Out, "  Source:       %s\n", issue.SourceURL)
	}
	if issue.ManualInstructions != "" {
		fmt.Fprintf(ui.Out, "  Instructions: %s\n", issue.ManualInstructions)
	}
	if issue.PRURL != "" {
		fmt.Fprintf(ui.Out, "  PR:           %s\n", output.Green(issue.PRURL))
	}
	if issue.ErrorMessage != "" {
		fmt.Fprintf(ui.Out, "  Error:        %s\n", output.Red(issue.ErrorMessage))
	}
	fmt.Fprintf(ui.Out, "  Reported by:  %s\n", issue.CreatedBy)
	if issue.ApprovedBy != "" {
		fmt.Fprintf(ui.Out, "  Approved by:  %s\n", issue.ApprovedBy)
	}
	if issue.ClaimedBy != "" {
		fmt.Fprintf(ui.Out, "  Claimed by:   %s\n", issue.ClaimedBy)
	}
	if issue.AttemptCount > 0 {
		fmt.Fprintf(ui.Out, "  Attempts:     %d\n", issue.AttemptCount)
	}
	fmt.Fprintf(ui.Out, "  Created:      %s\n", issue.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Updated:      %s\n", issue.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:      %s\n", issue.ID)

	return nil
}

func issueApproveRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would approve issue %s: %s", shortID(issue.ID), issue.Title)
		return nil
	}

	updated, err := s.ApproveIssue(ctx, issue.ID, issueApprovedBy)
	if err != nil {
		return fmt.Errorf("approve issue: %w", err)
	}

	ui.Success("Approved issue %s: %s", output.Cyan(shortID(updated.ID)), updated.Title)
	return nil
}

func issueRejectRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would reject issue %s: %s", shortID(issue.ID), issue.Title)
		return nil
	}

	updated, err := s.RejectIssue(ctx, issue.ID)
	if err != nil {
		return fmt.Errorf("reject issue: %w", err)
	}

	ui.Success("Rejected issue %s: %s", output.Cyan(shortID(updated.ID)), updated.Title)
	return nil
}

// findIssue finds an issue by full ID or prefix match.
func findIssue(ctx context.Context, s store.Store, id string) (*models.Issue, error) {
	// Try exact match first
	if issue, err := s.GetIssue(ctx, id); err == nil {
		return issue, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	issues, err := s.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return nil, err
	}

	var matches []*models.Issue
	for _, issue := range issues {
		if strings.HasPrefix(issue.ID, upper) {
			matches = append(matches, issue)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("issue not found: %s", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous issue ID %s: matches %d issues", id, len(matches))
	}
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
