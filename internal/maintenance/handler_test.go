package maintenance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"employee-records/internal/observability"
)

type fakePruner struct {
	cutoff  time.Time
	batch   int
	deleted int64
	err     error
}

func (p *fakePruner) DeleteOlderThan(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	p.cutoff = cutoff
	p.batch = batchSize
	return p.deleted, p.err
}

type fakeSweeper int

func (s fakeSweeper) Sweep() int { return int(s) }

func newHandler(pruner *fakePruner) *CleanupHandler {
	h := NewCleanupHandler(
		pruner,
		map[string]Sweeper{"login_identity": fakeSweeper(3), "login_ip": fakeSweeper(1)},
		observability.NewLoggerTo(io.Discard),
		"cron-secret",
		30*24*time.Hour,
		200,
	)
	h.now = func() time.Time { return time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC) }
	return h
}

func TestCleanupHandler_RequiresSecret(t *testing.T) {
	h := newHandler(&fakePruner{})

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, header := range []string{"Bearer wrong", "Bearer cron-secre", "Bearer cron-secret-and-more", "Basic cron-secret"} {
		req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
		req.Header.Set("Authorization", header)
		rec = httptest.NewRecorder()
		h.Handle(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestCleanupHandler_DisabledWithoutSecret(t *testing.T) {
	h := NewCleanupHandler(&fakePruner{}, nil, observability.NewLoggerTo(io.Discard), "", time.Hour, 10)

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupHandler_RunsSweepsAndPrunesAudit(t *testing.T) {
	pruner := &fakePruner{deleted: 7}
	h := newHandler(pruner)

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","result":{"deleted_audit_logs":7,"swept_entries":{"login_identity":3,"login_ip":1}}}`, rec.Body.String())
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), pruner.cutoff)
	assert.Equal(t, 200, pruner.batch)
}

func TestCleanupHandler_ReportsPruneFailure(t *testing.T) {
	h := newHandler(&fakePruner{err: errors.New("db down")})

	req := httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "bearer cron-secret")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
