package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchatly/livechat/internal/domain"
)

type fakeDirectory struct {
	byToken map[string]*domain.Chatbot
	byOwner map[string]*domain.Chatbot // chatbotID+":"+userID
}

func (d *fakeDirectory) ResolveChatbotByToken(_ context.Context, token string) (*domain.Chatbot, error) {
	cb, ok := d.byToken[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cb, nil
}

func (d *fakeDirectory) ResolveChatbotOwnership(_ context.Context, chatbotID, userID string) (*domain.Chatbot, error) {
	cb, ok := d.byOwner[chatbotID+":"+userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cb, nil
}

func newTestIssuer(t *testing.T) (*Issuer, *fakeDirectory) {
	t.Helper()
	dir := &fakeDirectory{
		byToken: map[string]*domain.Chatbot{
			"widget-token-a": {ID: "cb_a", OwnerID: "user_1", Token: "widget-token-a"},
		},
		byOwner: map[string]*domain.Chatbot{
			"cb_a:user_1": {ID: "cb_a", OwnerID: "user_1", Token: "widget-token-a"},
		},
	}
	return NewIssuer("test-secret", time.Hour, dir), dir
}

func TestIssueVisitor(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	cap, err := issuer.IssueVisitor(context.Background(), "widget-token-a", "sess_1")
	require.NoError(t, err)

	assert.Equal(t, "visitor:sess_1", cap.Identity)
	assert.Equal(t, "live-chat:cb_a:sess_1", cap.Channel)

	claims, err := issuer.Verify(cap.Token)
	require.NoError(t, err)
	assert.Equal(t, cap.Identity, claims.Identity)
	assert.False(t, claims.IsAdmin())
	assert.True(t, claims.Allows("live-chat:cb_a:sess_1", CapPublish))
	assert.True(t, claims.Allows("live-chat:cb_a:sess_1", CapSubscribe))
	assert.True(t, claims.Allows("live-chat:cb_a:sess_1", CapPresence))
}

func TestIssueAdmin(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	cap, err := issuer.IssueAdmin(context.Background(), "user_1", "cb_a", "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "admin:user_1:sess_1", cap.Identity)

	claims, err := issuer.Verify(cap.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())
}

func TestCapabilityScopedToSingleChannel(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	cap, err := issuer.IssueVisitor(context.Background(), "widget-token-a", "sess_1")
	require.NoError(t, err)

	claims, err := issuer.Verify(cap.Token)
	require.NoError(t, err)

	// Inert against another chatbot's channel or another session's channel.
	assert.False(t, claims.Allows("live-chat:cb_b:sess_1", CapSubscribe))
	assert.False(t, claims.Allows("live-chat:cb_a:sess_2", CapSubscribe))
	assert.False(t, claims.Allows("live-chat:cb_a:sess_1", "history"))
}

func TestIssueAdminRequiresAuth(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, err := issuer.IssueAdmin(context.Background(), "", "cb_a", "sess_1")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestIssueAdminRejectsNonOwner(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, err := issuer.IssueAdmin(context.Background(), "user_2", "cb_a", "sess_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIssueVisitorUnknownToken(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, err := issuer.IssueVisitor(context.Background(), "nope", "sess_1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIssueMissingParams(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, err := issuer.IssueVisitor(context.Background(), "", "sess_1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = issuer.IssueVisitor(context.Background(), "widget-token-a", "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = issuer.IssueAdmin(context.Background(), "user_1", "", "sess_1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestVerifyExpiredToken(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	cap, err := issuer.IssueVisitor(context.Background(), "widget-token-a", "sess_1")
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Verify(cap.Token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	other := NewIssuer("other-secret", time.Hour, &fakeDirectory{
		byToken: map[string]*domain.Chatbot{"widget-token-a": {ID: "cb_a"}},
	})

	cap, err := other.IssueVisitor(context.Background(), "widget-token-a", "sess_1")
	require.NoError(t, err)

	_, err = issuer.Verify(cap.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	_, err := issuer.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
