package agent

import (
	"fmt"
	"strings"

	"github.com/joescharf/mend/internal/models"
)

// BuildFixPrompt generates the one-shot instruction passed to the remediation
// agent for a claimed issue.
func BuildFixPrompt(issue *models.Issue) string {
	var b strings.Builder

	b.WriteString("You are an automated content-repair agent working inside a checked-out repository. Fix exactly one reported issue, then stop.\n\n")

	b.WriteString("## Issue\n")
	fmt.Fprintf(&b, "- ID: %s\n", issue.ID)
	fmt.Fprintf(&b, "- Title: %s\n", issue.Title)
	if issue.Description != "" {
		fmt.Fprintf(&b, "- Description: %s\n", issue.Description)
	}
	if issue.SourceURL != "" {
		fmt.Fprintf(&b, "- Location: %s\n", issue.SourceURL)
	}
	b.WriteString("\n")

	b.WriteString("## Operator instructions\n")
	if issue.ManualInstructions != "" {
		b.WriteString(issue.ManualInstructions)
		b.WriteString("\n\n")
	} else {
		b.WriteString("none\n\n")
	}

	b.WriteString("## Rules\n")
	b.WriteString("- Change ONLY what this specific issue describes. Do not refactor, reformat, or fix unrelated problems.\n")
	b.WriteString("- Edit files in place. Do not create branches, commit, or push; the pipeline handles version control.\n")
	b.WriteString("- If the issue cannot be fixed, make no changes at all.\n")

	return b.String()
}
