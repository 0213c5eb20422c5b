package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/token"
)

type contextKey string

const userIDKey contextKey = "user_id"

func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// respondDomainError maps sentinel errors onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body; details stay in the log.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotAuthenticated),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrExpiredToken):
		respondError(w, "authentication required", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrUpstream):
		respondError(w, "upstream unavailable", http.StatusBadGateway)
	default:
		slog.Error("request failed", "error", err)
		respondError(w, "internal server error", http.StatusInternalServerError)
	}
}

func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
