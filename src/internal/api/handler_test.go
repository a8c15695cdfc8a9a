package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ndg/pr-dashboard/src/internal/aggregate"
	"github.com/ndg/pr-dashboard/src/internal/model"
	"github.com/ndg/pr-dashboard/src/internal/provider"
	"github.com/ndg/pr-dashboard/src/internal/service"
)

type stubProvider struct {
	calls  atomic.Int64
	result provider.Result
}

func (s *stubProvider) Platform() model.Platform { return model.PlatformGitLab }

func (s *stubProvider) ListOpen(context.Context) provider.Result {
	s.calls.Add(1)
	return s.result
}

func (s *stubProvider) ListRecentlyClosed(context.Context) provider.Result {
	return provider.Succeeded(nil)
}

func newTestRouter(p provider.Provider) *chi.Mux {
	logger := zap.NewNop()
	agg := aggregate.New([]provider.Provider{p}, logger)
	svc := service.NewService(agg, time.Hour, time.Hour, "alice", "", logger)
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware, LoggerMiddleware(logger), Recoverer(logger))
	RegisterRoutes(r, h)
	return r
}

func doGet(t *testing.T, router http.Handler, target string) (*httptest.ResponseRecorder, service.DashboardResponse) {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var body service.DashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestGetPRs(t *testing.T) {
	p := &stubProvider{result: provider.Succeeded([]model.ReviewItem{{
		ID:        "gitlab-7-1",
		Title:     "add request logging",
		Author:    "alice",
		Platform:  model.PlatformGitLab,
		Repo:      "ndg/service",
		Status:    model.StatusOpen,
		CreatedAt: time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}})}
	router := newTestRouter(p)

	rec, body := doGet(t, router, "/api/prs")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	require.Len(t, body.Items, 1)
	assert.Equal(t, "gitlab-7-1", body.Items[0].ID)
	assert.Equal(t, 1, body.Counts.Total)
	assert.Equal(t, "alice", body.MyUsername)
	assert.NotEmpty(t, body.FetchedAt)
	assert.Empty(t, body.Error)
}

func TestGetPRsBustParam(t *testing.T) {
	p := &stubProvider{result: provider.Succeeded(nil)}
	router := newTestRouter(p)

	doGet(t, router, "/api/prs")
	doGet(t, router, "/api/prs")
	assert.Equal(t, int64(1), p.calls.Load(), "second non-bust read must hit the cache")

	doGet(t, router, "/api/prs?bust=1729")
	assert.Equal(t, int64(2), p.calls.Load(), "bust must bypass the cache")
}

func TestGetPRsTotalFailureReturns200WithError(t *testing.T) {
	p := &stubProvider{result: provider.Failed("credentials rejected")}
	router := newTestRouter(p)

	rec, body := doGet(t, router, "/api/prs")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body.Error)
	assert.NotNil(t, body.Items)
	assert.Empty(t, body.Items)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&stubProvider{result: provider.Succeeded(nil)})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
