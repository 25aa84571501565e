package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog counts by status",
	Long:  "Show how many issues sit in each lifecycle state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusOverviewRun()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// statusOrder fixes the display order to follow the lifecycle.
var statusOrder = []models.IssueStatus{
	models.IssueStatusReported,
	models.IssueStatusApproved,
	models.IssueStatusInProgress,
	models.IssueStatusPRRaised,
	models.IssueStatusFailed,
	models.IssueStatusRejected,
	models.IssueStatusDone,
}

func statusOverviewRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	counts, err := s.CountIssuesByStatus(ctx)
	if err != nil {
		return err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		ui.Info("No issues tracked. Use 'mend issue add' or 'mend scan' to get started.")
		return nil
	}

	table := ui.Table([]string{"Status", "Count"})
	for _, status := range statusOrder {
		n := counts[status]
		if n == 0 {
			continue
		}
		_ = table.Append([]string{
			output.StatusColor(string(status)),
			fmt.Sprintf("%d", n),
		})
	}
	_ = table.Render()

	fmt.Fprintf(ui.Out, "\nTotal: %d\n", total)
	return nil
}
