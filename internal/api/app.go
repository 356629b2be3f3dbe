package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fatrocu/internal/export"
	"github.com/kalambet/fatrocu/internal/intake"
	"github.com/kalambet/fatrocu/internal/invoice"
	"github.com/kalambet/fatrocu/internal/orchestrator"
)

const (
	defaultMaxUploadSize = 100 << 20 // 100MB per request
	multipartMemory      = 32 << 20
)

type AppDeps struct {
	Orch  *orchestrator.Orchestrator
	Token string
	// MaxUploadBytes bounds a whole POST /jobs body. Zero means 100MB.
	MaxUploadBytes int64
	// Now stamps export file names. Defaults to time.Now.
	Now func() time.Time
}

// JobView is a job together with the review findings for its data.
type JobView struct {
	invoice.Job
	Findings []invoice.Finding `json:"findings,omitempty"`
}

func viewOf(j invoice.Job) JobView {
	return JobView{Job: j, Findings: invoice.Check(j)}
}

func viewsOf(jobs []invoice.Job) []JobView {
	out := make([]JobView, len(jobs))
	for i, j := range jobs {
		out[i] = viewOf(j)
	}
	return out
}

// ApproveNextResponse is returned by POST /review/{id}/approve-next.
type ApproveNextResponse struct {
	Job  JobView `json:"job"`
	Next string  `json:"next,omitempty"`
	Done bool    `json:"done"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/jobs", handleSubmit(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Delete("/jobs/{id}", handleDeleteJob(deps))
		r.Get("/jobs/{id}/file", handleGetFile(deps))
		r.Get("/queue", handleQueue(deps))

		r.Get("/review/pending", handlePending(deps))
		r.Get("/review/reviewed", handleReviewed(deps))
		r.Post("/review/{id}/approve", handleApprove(deps))
		r.Post("/review/{id}/approve-next", handleApproveNext(deps))
		r.Post("/review/{id}/undo", handleUndo(deps))

		r.Get("/export", handleExport(deps))
		r.Post("/export/clear", handleClearApproved(deps))

		r.Get("/configs", handleListConfigs(deps))
		r.Post("/configs", handleSaveConfig(deps))
		r.Delete("/configs/{id}", handleDeleteConfig(deps))
	})

	return r
}

func handleSubmit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		configID := r.FormValue("config_id")
		if configID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "config_id is required")
			return
		}
		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one file is required")
			return
		}

		files := make([]intake.File, len(headers))
		for i, fh := range headers {
			files[i] = uploadedFile(fh)
		}

		res, err := deps.Orch.Submit(r.Context(), files, configID)
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func uploadedFile(fh *multipart.FileHeader) intake.File {
	return intake.File{
		Name:     fh.Filename,
		MIMEType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := deps.Orch.Jobs(r.Context())
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewsOf(jobs))
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Orch.Job(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(j))
	}
}

func handleDeleteJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Orch.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGetFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Orch.Payload(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			orchError(w, err)
			return
		}
		w.Header().Set("Content-Type", p.MIMEType)
		w.Header().Set("Content-Disposition", contentDisposition("inline", p.FileName))
		w.Write(p.Data)
	}
}

func handleQueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Orch.QueueStatus(r.Context())
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handlePending(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := deps.Orch.Pending(r.Context())
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewsOf(jobs))
	}
}

func handleReviewed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := deps.Orch.Reviewed(r.Context())
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewsOf(jobs))
	}
}

// decodeApproval reads the review body for the job named in the path.
func decodeApproval(w http.ResponseWriter, r *http.Request) (orchestrator.Approval, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var a orchestrator.Approval
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return a, false
	}
	a.JobID = chi.URLParam(r, "id")
	return a, true
}

func handleApprove(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := decodeApproval(w, r)
		if !ok {
			return
		}
		j, err := deps.Orch.Approve(r.Context(), a)
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(j))
	}
}

func handleApproveNext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := decodeApproval(w, r)
		if !ok {
			return
		}
		j, nav, err := deps.Orch.SaveAndAdvance(r.Context(), a)
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ApproveNextResponse{Job: viewOf(j), Next: nav.Next, Done: nav.Done})
	}
}

func handleUndo(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Orch.Undo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(j))
	}
}

func handleExport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := strings.ToLower(r.URL.Query().Get("format"))
		if format == "" {
			format = "xlsx"
		}
		if format != "xlsx" && format != "csv" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported export format %q", format)
			return
		}

		set, err := deps.Orch.ExportSet(r.Context())
		if err != nil {
			orchError(w, err)
			return
		}
		if len(set.Jobs) == 0 {
			httpError(w, http.StatusNotFound, "not_found", "no approved jobs to export")
			return
		}

		tbl := export.Flatten(set.Jobs, set.Configs)
		name := fmt.Sprintf("onaylanan-faturalar-%s.%s", deps.Now().Format("2006-01-02"), format)
		w.Header().Set("Content-Disposition", contentDisposition("attachment", name))
		if format == "csv" {
			w.Header().Set("Content-Type", export.ContentTypeCSV)
			err = export.WriteCSV(w, tbl)
		} else {
			w.Header().Set("Content-Type", export.ContentTypeXLSX)
			err = export.WriteXLSX(w, tbl)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "export failed: %v", err)
		}
	}
}

func handleClearApproved(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Orch.ClearApproved(r.Context())
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
	}
}

func handleListConfigs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfgs, err := deps.Orch.Configs(r.Context())
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfgs)
	}
}

func handleSaveConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var c invoice.Config
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		saved, err := deps.Orch.SaveConfig(r.Context(), c)
		if err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleDeleteConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Orch.DeleteConfig(r.Context(), chi.URLParam(r, "id")); err != nil {
			orchError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func contentDisposition(kind, name string) string {
	return mime.FormatMediaType(kind, map[string]string{"filename": name})
}
