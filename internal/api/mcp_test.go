package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/fatrocu/internal/invoice"
	"github.com/kalambet/fatrocu/internal/orchestrator"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *orchestrator.Orchestrator) {
	t.Helper()
	o := newTestOrchestrator(t)
	return MCPDeps{Orch: o, Version: "test"}, o
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// pendingJob submits one PNG and waits until it awaits review.
func pendingJob(t *testing.T, o *orchestrator.Orchestrator, name string) string {
	t.Helper()
	h := NewAppHandler(AppDeps{Orch: o, Token: testToken})
	return submitAndWait(t, h, o, name)[0]
}

// --- tests ---

func TestMCPTool_QueueStatus(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	result, err := mcpQueueStatus(deps)(context.Background(), makeCallToolRequest("queue_status", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var st orchestrator.QueueStatus
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if st.Concurrency != 1 || st.Paused {
		t.Errorf("queue = %+v", st)
	}
}

func TestMCPTool_ListPending(t *testing.T) {
	deps, o := newTestMCPDeps(t)
	pendingJob(t, o, "a.png")
	pendingJob(t, o, "b.png")

	result, err := mcpListPending(deps)(context.Background(), makeCallToolRequest("list_pending", map[string]any{"limit": 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var jobs []JobView
	if err := json.Unmarshal([]byte(toolText(t, result)), &jobs); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job with limit 1, got %d", len(jobs))
	}
}

func TestMCPTool_ApproveJob_WithCorrections(t *testing.T) {
	deps, o := newTestMCPDeps(t)
	id := pendingJob(t, o, "a.png")

	req := makeCallToolRequest("approve_job", map[string]any{
		"job_id": id,
		"fields": map[string]any{"genelToplam": "150,00"},
	})
	result, err := mcpApproveJob(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), id) {
		t.Errorf("response does not name the job: %s", toolText(t, result))
	}

	j, err := o.Job(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != invoice.StatusSuccess {
		t.Errorf("status = %s, want %s", j.Status, invoice.StatusSuccess)
	}
	if got := j.ExtractedData.Get("genelToplam").Value; got != "150,00" {
		t.Errorf("genelToplam = %q, want corrected value", got)
	}
	if got := j.ExtractedData.Get("faturaNumarasi").Value; got != "GIB2025-a.png" {
		t.Errorf("faturaNumarasi = %q, want the extracted value kept", got)
	}
}

func TestMCPTool_ApproveJob_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpApproveJob(deps)

	result, err := handler(context.Background(), makeCallToolRequest("approve_job", map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for missing job_id")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("approve_job", map[string]any{"job_id": "missing"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "not found") {
		t.Errorf("unknown job result = %+v", result)
	}
}

func TestMCPTool_DeleteJob(t *testing.T) {
	deps, o := newTestMCPDeps(t)
	id := pendingJob(t, o, "a.png")
	handler := mcpDeleteJob(deps)

	result, err := handler(context.Background(), makeCallToolRequest("delete_job", map[string]any{"job_id": id}))
	if err != nil || result.IsError {
		t.Fatalf("delete failed: %v %+v", err, result)
	}
	if _, err := o.Job(context.Background(), id); err == nil {
		t.Error("job still present after delete")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("delete_job", map[string]any{"job_id": id}))
	if !result.IsError {
		t.Error("second delete succeeded")
	}
}

func TestMCPResource_Configs(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "fatrocu://configs"}}
	contents, err := mcpResourceConfigs(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var cfgs []invoice.Config
	if err := json.Unmarshal([]byte(tc.Text), &cfgs); err != nil {
		t.Fatalf("failed to parse configs: %v", err)
	}
	if len(cfgs) != len(invoice.PredefinedConfigs()) || cfgs[0].ID != invoice.ConfigEArsiv {
		t.Errorf("configs = %+v", cfgs)
	}
}
