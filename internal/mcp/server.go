package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/mend/internal/models"
	"github.com/joescharf/mend/internal/store"
)

// Server wraps the mend data layer and exposes it as MCP tools.
type Server struct {
	store store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("mend", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.getIssueTool())
	srv.AddTool(s.reportIssueTool())
	srv.AddTool(s.approveIssueTool())
	srv.AddTool(s.rejectIssueTool())
	srv.AddTool(s.statusTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type issueOut struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	SourceURL          string `json:"source_url,omitempty"`
	ManualInstructions string `json:"manual_instructions,omitempty"`
	Status             string `json:"status"`
	PRURL              string `json:"pr_url,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	CreatedBy          string `json:"created_by"`
	ApprovedBy         string `json:"approved_by,omitempty"`
	AttemptCount       int    `json:"attempt_count"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

func toIssueOut(issue *models.Issue) issueOut {
	return issueOut{
		ID:                 issue.ID,
		Title:              issue.Title,
		Description:        issue.Description,
		SourceURL:          issue.SourceURL,
		ManualInstructions: issue.ManualInstructions,
		Status:             string(issue.Status),
		PRURL:              issue.PRURL,
		ErrorMessage:       issue.ErrorMessage,
		CreatedBy:          issue.CreatedBy,
		ApprovedBy:         issue.ApprovedBy,
		AttemptCount:       issue.AttemptCount,
		CreatedAt:          issue.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          issue.UpdatedAt.Format(time.RFC3339),
	}
}

// mend_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_list_issues",
		mcp.WithDescription("List tracked issues, optionally filtered by status. Returns a JSON array. Each issue has: title, description, source_url, status (reported/approved/rejected/in_progress/pr_raised/failed/done), pr_url, error_message, and attempt_count."),
		mcp.WithString("status", mcp.Description("Status filter: reported, approved, rejected, in_progress, pr_raised, failed, done")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.IssueListFilter{}
	if status := request.GetString("status", ""); status != "" {
		filter.Status = models.IssueStatus(status)
		if !filter.Status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("unknown status: %s", status)), nil
		}
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = toIssueOut(issue)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issues: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mend_get_issue
func (s *Server) getIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_get_issue",
		mcp.WithDescription("Get a single issue by ID (full ULID or unique prefix). Returns the issue as JSON."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID (full ULID or unique prefix)")),
	)
	return tool, s.handleGetIssue
}

func (s *Server) handleGetIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}

	issue, err := s.findIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(toIssueOut(issue))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mend_report_issue
func (s *Server) reportIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_report_issue",
		mcp.WithDescription("Report a new issue. The issue enters the backlog as 'reported' and waits for human approval. Returns the created issue as JSON."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Concise one-line summary of the problem")),
		mcp.WithString("description", mcp.Description("What is wrong and where")),
		mcp.WithString("source_url", mcp.Description("Page or file the problem was observed on")),
		mcp.WithString("manual_instructions", mcp.Description("Fix guidance for the remediation agent")),
	)
	return tool, s.handleReportIssue
}

func (s *Server) handleReportIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	issue := &models.Issue{
		Title:              title,
		Description:        request.GetString("description", ""),
		SourceURL:          request.GetString("source_url", ""),
		ManualInstructions: request.GetString("manual_instructions", ""),
		CreatedBy:          "mcp",
	}

	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}

	data, err := json.Marshal(toIssueOut(issue))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mend_approve_issue
func (s *Server) approveIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_approve_issue",
		mcp.WithDescription("Approve a reported or failed issue for automated remediation. The worker will pick it up on its next poll. Returns the updated issue as JSON."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID (full ULID or unique prefix)")),
		mcp.WithString("approved_by", mcp.Description("Who approved it (default: mcp)")),
	)
	return tool, s.handleApproveIssue
}

func (s *Server) handleApproveIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}

	issue, err := s.findIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	approvedBy := request.GetString("approved_by", "mcp")
	updated, err := s.store.ApproveIssue(ctx, issue.ID, approvedBy)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to approve issue: %v", err)), nil
	}

	data, err := json.Marshal(toIssueOut(updated))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mend_reject_issue
func (s *Server) rejectIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_reject_issue",
		mcp.WithDescription("Reject a reported issue. Rejection is terminal; the issue will never be worked on. Returns the updated issue as JSON."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID (full ULID or unique prefix)")),
	)
	return tool, s.handleRejectIssue
}

func (s *Server) handleRejectIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}

	issue, err := s.findIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	updated, err := s.store.RejectIssue(ctx, issue.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to reject issue: %v", err)), nil
	}

	data, err := json.Marshal(toIssueOut(updated))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// mend_status
func (s *Server) statusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("mend_status",
		mcp.WithDescription("Get issue counts grouped by status. Returns a JSON object mapping status to count."),
	)
	return tool, s.handleStatus
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.store.CountIssuesByStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count issues: %v", err)), nil
	}

	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal counts: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// findIssue finds an issue by full ID or unique prefix.
func (s *Server) findIssue(ctx context.Context, id string) (*models.Issue, error) {
	// Try exact match first
	if issue, err := s.store.GetIssue(ctx, id); err == nil {
		return issue, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	issues, err := s.store.ListIssues(ctx, store.IssueListFilter{})
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
