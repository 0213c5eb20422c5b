package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/centrifugal/centrifuge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/token"
)

type fakeDirectory struct{}

func (fakeDirectory) ResolveChatbotByToken(_ context.Context, tok string) (*domain.Chatbot, error) {
	if tok != "widget-token-a" {
		return nil, domain.ErrNotFound
	}
	return &domain.Chatbot{ID: "cb_a", OwnerID: "user_1", Token: tok}, nil
}

func (fakeDirectory) ResolveChatbotOwnership(_ context.Context, chatbotID, userID string) (*domain.Chatbot, error) {
	if chatbotID == "cb_a" && userID == "user_1" {
		return &domain.Chatbot{ID: "cb_a", OwnerID: "user_1"}, nil
	}
	return nil, domain.ErrNotFound
}

func newIssuer() *token.Issuer {
	return token.NewIssuer("test-secret", time.Hour, fakeDirectory{})
}

func capture(t *testing.T, middleware func(http.Handler) http.Handler, url string, header map[string]string) (*httptest.ResponseRecorder, context.Context) {
	t.Helper()
	var captured context.Context
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, captured
}

func TestAuthMiddlewareQueryParam(t *testing.T) {
	issuer := newIssuer()
	cap, err := issuer.IssueVisitor(context.Background(), "widget-token-a", "sess_1")
	require.NoError(t, err)

	rec, ctx := capture(t, AuthMiddleware(issuer), "/connection/websocket?token="+cap.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cred, ok := centrifuge.GetCredentials(ctx)
	require.True(t, ok)
	assert.Equal(t, "visitor:sess_1", cred.UserID)

	claims, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "live-chat:cb_a:sess_1", claims.Channel)
	assert.False(t, claims.IsAdmin())
}

func TestAuthMiddlewareBearerHeader(t *testing.T) {
	issuer := newIssuer()
	cap, err := issuer.IssueAdmin(context.Background(), "user_1", "cb_a", "sess_1")
	require.NoError(t, err)

	rec, ctx := capture(t, AuthMiddleware(issuer), "/connection/websocket",
		map[string]string{"Authorization": "Bearer " + cap.Token})
	require.Equal(t, http.StatusOK, rec.Code)

	claims, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "admin:user_1:sess_1", claims.Identity)
	assert.True(t, claims.IsAdmin())
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	rec, _ := capture(t, AuthMiddleware(newIssuer()), "/connection/websocket", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsGarbageToken(t *testing.T) {
	rec, _ := capture(t, AuthMiddleware(newIssuer()), "/connection/websocket?token=garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsForeignSignature(t *testing.T) {
	foreign := token.NewIssuer("other-secret", time.Hour, fakeDirectory{})
	cap, err := foreign.IssueVisitor(context.Background(), "widget-token-a", "sess_1")
	require.NoError(t, err)

	rec, _ := capture(t, AuthMiddleware(newIssuer()), "/connection/websocket?token="+cap.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
