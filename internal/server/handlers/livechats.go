package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mchatly/livechat/internal/domain"
)

// SessionStore lists a chatbot's visitor sessions for the dashboard.
type SessionStore interface {
	ListWidgetSessions(ctx context.Context, chatbotID string, limit, offset int) ([]*domain.WidgetSession, int, error)
	ListMessages(ctx context.Context, chatbotID, sessionID string, limit int) ([]*domain.ChatMessage, error)
}

type LiveChatsHandler struct {
	store     SessionStore
	directory domain.Directory
}

func NewLiveChatsHandler(store SessionStore, directory domain.Directory) *LiveChatsHandler {
	return &LiveChatsHandler{store: store, directory: directory}
}

type liveChatSummary struct {
	SessionID  string    `json:"sessionId"`
	StartedAt  time.Time `json:"startedAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// List pages a chatbot's visitor sessions, most recent first. The ownership
// check keeps one tenant's dashboard out of another's conversations.
func (h *LiveChatsHandler) List(w http.ResponseWriter, r *http.Request) {
	chatbot, err := h.directory.ResolveChatbotOwnership(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	limit := parseIntQuery(r, "limit", 10)
	page := parseIntQuery(r, "page", 1)
	if page < 1 {
		page = 1
	}

	sessions, total, err := h.store.ListWidgetSessions(r.Context(), chatbot.ID, limit, (page-1)*limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	summaries := make([]liveChatSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, liveChatSummary{
			SessionID:  s.SessionID,
			StartedAt:  s.StartedAt,
			LastSeenAt: s.LastSeenAt,
		})
	}

	respondJSON(w, map[string]any{
		"liveChats": summaries,
		"total":     total,
		"page":      page,
	}, http.StatusOK)
}

// Get returns the full transcript of one visitor session.
func (h *LiveChatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatbot, err := h.directory.ResolveChatbotOwnership(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	messages, err := h.store.ListMessages(r.Context(), chatbot.ID, chi.URLParam(r, "sessionId"), parseIntQuery(r, "limit", 0))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	respondJSON(w, map[string]any{"messages": messages}, http.StatusOK)
}
