package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"

	"github.com/ndg/pr-dashboard/src/internal/service"
)

// Handler serves the dashboard read API.
type Handler struct {
	svc *service.Service
	log *zap.Logger
}

func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, log: logger}
}

func RegisterRoutes(r *chi.Mux, h *Handler) {
	r.Get("/api/prs", withTimeout(h.getPRs))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
}

func withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

// getPRs returns the aggregated dashboard payload. A non-empty bust query
// parameter bypasses both caches and refreshes synchronously. The status is
// always 200: failures ride inside the body's error field so the client can
// fall back to demo content.
func (h *Handler) getPRs(w http.ResponseWriter, r *http.Request) {
	bust := r.URL.Query().Get("bust") != ""
	resp := h.svc.Dashboard(r.Context(), bust)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
