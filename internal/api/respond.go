package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/fatrocu/internal/orchestrator"
)

const maxRequestBodySize = 1 << 20 // 1MB

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// orchError maps orchestrator errors onto HTTP statuses.
func orchError(w http.ResponseWriter, err error) {
	var missing *orchestrator.MissingPayloadError
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound), errors.Is(err, orchestrator.ErrConfigNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, orchestrator.ErrNotReviewable):
		httpError(w, http.StatusConflict, "conflict_error", "%v", err)
	case errors.Is(err, orchestrator.ErrInvalidReview), errors.Is(err, orchestrator.ErrInvalidConfig):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, orchestrator.ErrPredefinedConfig):
		httpError(w, http.StatusForbidden, "permission_error", "%v", err)
	case errors.As(err, &missing):
		httpError(w, http.StatusGone, "not_found", "%v", err)
	case errors.Is(err, orchestrator.ErrStopped):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
