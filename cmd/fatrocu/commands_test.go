package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/fatrocu/internal/api"
	"github.com/kalambet/fatrocu/internal/config"
	"github.com/kalambet/fatrocu/internal/invoice"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"job not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useServer routes commands run through rootCmd to ts.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() {
		newAPIClient = old
		rootCmd.SetArgs(nil)
	})
}

var ctx = context.Background()

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestClientSubmit_Multipart(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /jobs": `{"accepted":[],"rejected":[]}`,
	})
	dir := t.TempDir()
	a := writeFile(t, dir, "fatura.pdf", "%PDF-1.4 fake")
	b := writeFile(t, dir, "fis.png", "\x89PNG\r\n\x1a\nfake")

	resp, err := ts.client().submit(ctx, invoice.ConfigOKC, []string{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if !strings.HasPrefix(r.ContentType, "multipart/form-data") {
		t.Errorf("content type = %q", r.ContentType)
	}
	for _, want := range []string{
		`name="config_id"`,
		invoice.ConfigOKC,
		`filename="fatura.pdf"`,
		"Content-Type: application/pdf",
		`filename="fis.png"`,
		"Content-Type: image/png",
	} {
		if !strings.Contains(r.Body, want) {
			t.Errorf("multipart body missing %q", want)
		}
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestSubmitCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /jobs": `{"accepted":[{"id":"j1","file_name":"fatura.pdf","status":"queued"}],"rejected":[{"file_name":"bos.pdf","reason":"file is empty"}]}`,
	})
	useServer(t, ts)
	dir := t.TempDir()
	a := writeFile(t, dir, "fatura.pdf", "%PDF-1.4 fake")
	b := writeFile(t, dir, "bos.pdf", "x")

	rootCmd.SetArgs([]string{"submit", "--config", invoice.ConfigEArsiv, a, b})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 || ts.requests[0].Path != "/jobs" {
		t.Fatalf("requests = %+v", ts.requests)
	}
}

func TestSubmitCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"submit"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing files")
	}
}

func TestReviewApproveCommand_Next(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /jobs/j1": `{"id":"j1","file_name":"a.pdf","status":"awaiting_review","review_status":"pending",
			"extracted_data":{"faturaNumarasi":{"value":"A1"},"genelToplam":{"value":"100,00"}}}`,
		"POST /review/j1/approve-next": `{"job":{"id":"j1","file_name":"a.pdf","status":"success"},"next":"j2","done":false}`,
	})
	useServer(t, ts)

	rootCmd.SetArgs([]string{"review", "approve", "j1", "--set", "genelToplam=120,00", "--next"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	r := ts.requests[1]
	if r.Method != "POST" || r.Path != "/review/j1/approve-next" {
		t.Fatalf("request = %s %s", r.Method, r.Path)
	}
	var body struct {
		Data invoice.Fields `json:"extracted_data"`
	}
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Data["genelToplam"].Value != "120,00" || body.Data["faturaNumarasi"].Value != "A1" {
		t.Errorf("approval data = %+v", body.Data)
	}
}

func TestApprovalFor(t *testing.T) {
	loc := &invoice.Region{}
	j := invoice.Job{
		ID: "j1",
		ExtractedData: invoice.Fields{
			"a": {Value: "1", Location: loc},
			"b": {Value: "2", Location: loc},
		},
		CustomFields: []invoice.FieldConfig{{Key: "c", Label: "C"}},
	}

	a := approvalFor(j, map[string]string{"a": "1", "b": "3", "c": "x"})
	if a.JobID != "j1" || len(a.CustomFields) != 1 {
		t.Errorf("approval = %+v", a)
	}
	if a.Data["a"].Location == nil {
		t.Error("unchanged value lost its location")
	}
	if a.Data["b"].Value != "3" || a.Data["b"].Location != nil {
		t.Errorf("edited value = %+v", a.Data["b"])
	}
	if a.Data["c"].Value != "x" {
		t.Errorf("new custom value = %+v", a.Data["c"])
	}
	if j.ExtractedData["b"].Value != "2" {
		t.Error("approvalFor mutated the job")
	}
}

func TestAddCustomFields(t *testing.T) {
	a := approvalFor(invoice.Job{
		ID:            "j1",
		ExtractedData: invoice.Fields{"faturaNumarasi": {Value: "A1"}},
	}, nil)

	if err := addCustomFields(&a, []string{"Sipariş No=S-9", "Plaka=34 ABC 12"}); err != nil {
		t.Fatalf("addCustomFields: %v", err)
	}
	if len(a.CustomFields) != 2 || a.CustomFields[0].Key != "siparisNo" || a.CustomFields[0].Label != "Sipariş No" {
		t.Errorf("custom fields = %+v", a.CustomFields)
	}
	if a.Data["siparisNo"].Value != "S-9" || a.Data["plaka"].Value != "34 ABC 12" {
		t.Errorf("data = %+v", a.Data)
	}

	if err := addCustomFields(&a, []string{"Fatura Numarası=x"}); err == nil {
		t.Error("field clashing with an existing key accepted")
	}
	if err := addCustomFields(&a, []string{"no value"}); err == nil {
		t.Error("field without value accepted")
	}
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"genelToplam=1.250,00", " not = a=b "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["genelToplam"] != "1.250,00" || got["not"] != "a=b" {
		t.Errorf("assignments = %v", got)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Errorf("parseAssignments(%q) accepted", bad)
		}
	}
}

func TestParseFieldSpecs(t *testing.T) {
	got, err := parseFieldSpecs([]string{"tutar=Tutar", "plaka"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []invoice.FieldConfig{{Key: "tutar", Label: "Tutar"}, {Key: "plaka", Label: "plaka"}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("fields = %+v, want %+v", got, want)
	}
	if _, err := parseFieldSpecs([]string{"=Label"}); err == nil {
		t.Error("empty key accepted")
	}
}

func TestExportDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "csv" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="onaylanan-faturalar-2025-03-14.csv"`)
		w.Write([]byte("a;b\r\n"))
	}))
	t.Cleanup(srv.Close)
	c := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}

	resp, err := c.get(ctx, "/export?format=csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir := t.TempDir()
	path, err := download(resp, dir, "fallback.csv")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if filepath.Base(path) != "onaylanan-faturalar-2025-03-14.csv" {
		t.Errorf("path = %q", path)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "a;b\r\n" {
		t.Errorf("content = %q", data)
	}
}

func TestExportDownload_Error(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/export?format=xlsx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := download(resp, t.TempDir(), "x.xlsx"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want a 404 error", err)
	}
}

func TestJobsDelete_CollectsFailures(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /jobs/j1": `{"status":"deleted"}`,
	})
	useServer(t, ts)

	rootCmd.SetArgs([]string{"jobs", "delete", "j1", "missing"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "1 job(s)") {
		t.Fatalf("err = %v, want one failure reported", err)
	}
	if len(ts.requests) != 2 {
		t.Errorf("expected 2 requests, got %d", len(ts.requests))
	}
}

func TestFilterStatus(t *testing.T) {
	var jobs []api.JobView
	for _, s := range []invoice.Status{invoice.StatusError, invoice.StatusSuccess, invoice.StatusError} {
		jobs = append(jobs, api.JobView{Job: invoice.Job{Status: s}})
	}
	if got := filterStatus(jobs, "ERROR"); len(got) != 2 {
		t.Errorf("filterStatus(ERROR) = %d jobs, want 2", len(got))
	}
	if got := filterStatus(jobs, ""); len(got) != 3 {
		t.Errorf("filterStatus(\"\") = %d jobs, want 3", len(got))
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := &apiClient{baseURL: srv.URL, token: "t", httpClient: http.DefaultClient}

	_, err := c.get(ctx, "/queue")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/jobs/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404: job not found") {
		t.Errorf("error = %q, want the envelope message", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	keys := config.ShowAll(config.Config{})
	if len(keys) == 0 {
		t.Fatal("ShowAll returned no keys")
	}
	for _, k := range keys {
		if strings.Contains(k.Key, "api_key") {
			t.Errorf("secret key %q listed", k.Key)
		}
	}
}

func TestLogLevel(t *testing.T) {
	if logLevel("debug").String() != "DEBUG" || logLevel("WARN").String() != "WARN" {
		t.Error("known levels not parsed")
	}
	if logLevel("chatty").String() != "INFO" {
		t.Error("unknown level did not fall back to info")
	}
}

func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	oldOut, oldErr, oldColor := stdout, stderr, noColor
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	stdout, stderr, noColor = out, errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = oldOut, oldErr, oldColor })
	return out, errOut
}

func TestPrintJobsAndFindings(t *testing.T) {
	out, errOut := captureOutput(t)

	printJobs([]api.JobView{
		{Job: invoice.Job{ID: "j1", FileName: "a.pdf", Status: invoice.StatusError, ErrorMessage: "Okunamadı"}},
		{Job: invoice.Job{ID: "j2", FileName: "b.pdf", Status: invoice.StatusAwaitingReview},
			Findings: []invoice.Finding{{Field: "genelToplam", Severity: invoice.SeverityWarning, Message: "toplam tutmuyor"}}},
	})
	table := out.String()
	for _, want := range []string{"ID", "NOTES", "a.pdf", "Okunamadı", "1 finding(s)"} {
		if !strings.Contains(table, want) {
			t.Errorf("table missing %q:\n%s", want, table)
		}
	}
	if strings.Contains(table, "\033[") {
		t.Error("table contains ANSI codes")
	}

	printFindings([]invoice.Finding{
		{Field: "vkn", Severity: invoice.SeverityError, Message: "geçersiz"},
		{Severity: invoice.SeverityWarning, Message: "uyarı"},
	})
	if got := errOut.String(); got != "✗ vkn: geçersiz\n⚠ uyarı\n" {
		t.Errorf("findings output = %q", got)
	}
}
