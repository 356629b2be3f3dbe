package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/fatrocu/internal/invoice"
	"github.com/kalambet/fatrocu/internal/orchestrator"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Orch    *orchestrator.Orchestrator
	Version string
}

// NewMCPServer creates an MCP server exposing the review queue as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"fatrocu",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("fatrocu extracts invoice data into a review queue. Check the queue, list jobs awaiting review, approve or delete them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("queue_status",
			mcp.WithDescription("Report the extraction queue: jobs in flight, jobs waiting, and whether a rate-limit pause is active."),
		),
		mcpQueueStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_pending",
			mcp.WithDescription("List jobs waiting for review with their extracted data and validation findings."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of jobs (default 20)")),
		),
		mcpListPending(deps),
	)

	s.AddTool(
		mcp.NewTool("approve_job",
			mcp.WithDescription("Approve a job awaiting review. Optional field values replace the extracted ones before approval."),
			mcp.WithString("job_id", mcp.Description("Job id"), mcp.Required()),
			mcp.WithObject("fields", mcp.Description("Corrected values keyed by field key")),
		),
		mcpApproveJob(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_job",
			mcp.WithDescription("Delete a job and its stored file."),
			mcp.WithString("job_id", mcp.Description("Job id"), mcp.Required()),
		),
		mcpDeleteJob(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"fatrocu://configs",
			"Document Configs",
			mcp.WithResourceDescription("Document types and the fields extracted for each"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConfigs(deps),
	)

	return s
}

func mcpQueueStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Orch.QueueStatus(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("queue status failed: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpListPending(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		jobs, err := deps.Orch.Pending(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing pending jobs failed: %v", err)), nil
		}
		if len(jobs) > limit {
			jobs = jobs[:limit]
		}
		return mcpJSON(viewsOf(jobs))
	}
}

func mcpApproveJob(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		j, err := deps.Orch.Job(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("approve failed: %v", err)), nil
		}
		a := orchestrator.Approval{
			JobID:                id,
			Data:                 j.ExtractedData.Clone(),
			LineItems:            invoice.CloneRows(j.LineItems),
			CustomFields:         j.CustomFields,
			CustomLineItemFields: j.CustomLineItemFields,
		}
		if raw, ok := req.GetArguments()["fields"].(map[string]any); ok {
			if a.Data == nil {
				a.Data = make(invoice.Fields, len(raw))
			}
			for k, v := range raw {
				val := strings.TrimSpace(fmt.Sprint(v))
				if a.Data[k].Value != val {
					a.Data[k] = invoice.GroundedValue{Value: val}
				}
			}
		}

		approved, err := deps.Orch.Approve(ctx, a)
		if err != nil {
			return mcpError(fmt.Sprintf("approve failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Approved %s (%s)", approved.FileName, approved.ID)), nil
	}
}

func mcpDeleteJob(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		if err := deps.Orch.Delete(ctx, id); err != nil {
			return mcpError(fmt.Sprintf("delete failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted job %s", id)), nil
	}
}

func mcpResourceConfigs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		cfgs, err := deps.Orch.Configs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list configs: %w", err)
		}

		b, err := json.Marshal(cfgs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal configs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
