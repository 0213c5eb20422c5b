package handlers

import (
	"context"
	"net/http"

	"github.com/mchatly/livechat/internal/token"
)

// CapabilityIssuer is the credential side of the token service.
type CapabilityIssuer interface {
	IssueAdmin(ctx context.Context, userID, chatbotID, sessionID string) (*token.Capability, error)
	IssueVisitor(ctx context.Context, chatbotToken, sessionID string) (*token.Capability, error)
}

type TokenHandler struct {
	issuer CapabilityIssuer
}

func NewTokenHandler(issuer CapabilityIssuer) *TokenHandler {
	return &TokenHandler{issuer: issuer}
}

// GetToken mints a channel-scoped capability. Visitors authenticate by the
// chatbot's public widget token; admins by their user session plus an
// ownership check on chatbotId.
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")

	var (
		cap *token.Capability
		err error
	)
	if widgetToken := q.Get("token"); widgetToken != "" {
		cap, err = h.issuer.IssueVisitor(r.Context(), widgetToken, sessionID)
	} else {
		cap, err = h.issuer.IssueAdmin(r.Context(), UserIDFromContext(r.Context()), q.Get("chatbotId"), sessionID)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, cap, http.StatusOK)
}
