package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
)

type Lister interface {
	List(ctx context.Context, limit int) ([]Entry, error)
}

type Handler struct {
	logs Lister
}

func NewHandler(logs Lister) *Handler {
	return &Handler{logs: logs}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.logs.List(r.Context(), limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
