package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"employee-records/internal/observability"
)

type AuditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Sweeper drops expired in-memory state. Both login limiters and the
// in-memory revocation store satisfy it.
type Sweeper interface {
	Sweep() int
}

type CleanupResult struct {
	DeletedAuditLogs int64          `json:"deleted_audit_logs"`
	SweptEntries     map[string]int `json:"swept_entries"`
}

type CleanupHandler struct {
	audit          AuditPruner
	sweepers       map[string]Sweeper
	logger         *observability.Logger
	cronSecret     string
	auditRetention time.Duration
	batchSize      int
	now            func() time.Time
}

func NewCleanupHandler(
	audit AuditPruner,
	sweepers map[string]Sweeper,
	logger *observability.Logger,
	cronSecret string,
	auditRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		audit:          audit,
		sweepers:       sweepers,
		logger:         logger,
		cronSecret:     strings.TrimSpace(cronSecret),
		auditRetention: auditRetention,
		batchSize:      batchSize,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || !h.secretMatches(strings.TrimSpace(parts[1])) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		h.logger.Error("cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

// Run sweeps in-memory state first so a failing database never leaves the
// limiters growing.
func (h *CleanupHandler) Run(ctx context.Context) (CleanupResult, error) {
	result := CleanupResult{SweptEntries: make(map[string]int, len(h.sweepers))}
	for name, sweeper := range h.sweepers {
		result.SweptEntries[name] = sweeper.Sweep()
	}

	if h.audit != nil && h.auditRetention > 0 {
		deleted, err := h.audit.DeleteOlderThan(ctx, h.now().Add(-h.auditRetention), h.batchSize)
		if err != nil {
			return result, err
		}
		result.DeletedAuditLogs = deleted
	}

	h.logger.Info("cleanup_completed", map[string]any{
		"deleted_audit_logs": result.DeletedAuditLogs,
		"swept_entries":      result.SweptEntries,
	})

	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *CleanupHandler) secretMatches(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.cronSecret)) == 1
}
