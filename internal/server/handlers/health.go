package handlers

import (
	"context"
	"net/http"
	"time"
)

type HealthHandler struct {
	dbPing func(ctx context.Context) error
}

func NewHealthHandler(dbPing func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{dbPing: dbPing}
}

// Liveness reports process health only.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Readiness additionally checks the database.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.dbPing(ctx); err != nil {
			respondJSON(w, map[string]string{"status": "degraded", "database": err.Error()}, http.StatusServiceUnavailable)
			return
		}
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
