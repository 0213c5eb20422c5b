package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mchatly/livechat/internal/domain"
)

// TranscriptStore is the durable-log surface these handlers need.
type TranscriptStore interface {
	AppendMessage(ctx context.Context, chatbotID, sessionID string, by domain.MessageBy, text string, ts time.Time) (string, error)
	ListMessages(ctx context.Context, chatbotID, sessionID string, limit int) ([]*domain.ChatMessage, error)
}

type TranscriptHandler struct {
	store     TranscriptStore
	directory domain.Directory
}

func NewTranscriptHandler(store TranscriptStore, directory domain.Directory) *TranscriptHandler {
	return &TranscriptHandler{store: store, directory: directory}
}

type logChatRequest struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
	MessageBy string `json:"messageBy"`
	Text      string `json:"text"`
	// Timestamp is optional unix milliseconds; zero means now.
	Timestamp int64 `json:"timestamp"`
}

// LogChat appends one transcript entry on behalf of the widget, which logs
// its bot exchanges out-of-band. Authenticated by the chatbot's public token.
func (h *TranscriptHandler) LogChat(w http.ResponseWriter, r *http.Request) {
	var req logChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	by := domain.MessageBy(req.MessageBy)
	if req.Token == "" || req.SessionID == "" || req.Text == "" || !by.Valid() {
		respondDomainError(w, fmt.Errorf("%w: token, sessionId, messageBy and text are required", domain.ErrInvalidRequest))
		return
	}

	chatbot, err := h.directory.ResolveChatbotByToken(r.Context(), req.Token)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp).UTC()
	}

	id, err := h.store.AppendMessage(r.Context(), chatbot.ID, req.SessionID, by, req.Text, ts)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, map[string]string{"id": id}, http.StatusCreated)
}

// ChatHistory returns a session's transcript in chronological order, for the
// widget to restore its view on reload.
func (h *TranscriptHandler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	widgetToken := q.Get("token")
	sessionID := q.Get("sessionId")
	if widgetToken == "" || sessionID == "" {
		respondDomainError(w, fmt.Errorf("%w: token and sessionId are required", domain.ErrInvalidRequest))
		return
	}

	chatbot, err := h.directory.ResolveChatbotByToken(r.Context(), widgetToken)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	messages, err := h.store.ListMessages(r.Context(), chatbot.ID, sessionID, parseIntQuery(r, "limit", 0))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if messages == nil {
		messages = []*domain.ChatMessage{}
	}

	respondJSON(w, map[string]any{"messages": messages}, http.StatusOK)
}
