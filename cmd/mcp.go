package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/mend/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This allows Claude Code to query and manage the issue backlog
natively. Configure in Claude Code with:

  {
    "mcpServers": {
      "mend": { "command": "mend", "args": ["mcp"] }
    }
  }

Available tools: mend_list_issues, mend_get_issue, mend_report_issue,
mend_approve_issue, mend_reject_issue, mend_status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		return mcp.NewServer(s).ServeStdio(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
