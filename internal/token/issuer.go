package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/protocol"
)

// Capability is what the credential endpoint hands back to a client.
type Capability struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer authenticates a requester and mints a channel-scoped capability.
// Tokens are never persisted: mint once per connection, expire naturally.
type Issuer struct {
	secret    []byte
	ttl       time.Duration
	directory domain.Directory

	now func() time.Time
}

func NewIssuer(secret string, ttl time.Duration, directory domain.Directory) *Issuer {
	return &Issuer{
		secret:    []byte(secret),
		ttl:       ttl,
		directory: directory,
		now:       time.Now,
	}
}

// IssueAdmin mints a capability for the owning user of chatbotID on the
// session's channel. The admin path requires a verified user session; the
// ownership check is what keeps one tenant out of another's conversations.
func (i *Issuer) IssueAdmin(ctx context.Context, userID, chatbotID, sessionID string) (*Capability, error) {
	if userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if chatbotID == "" || sessionID == "" {
		return nil, fmt.Errorf("%w: missing chatbotId or sessionId", domain.ErrInvalidRequest)
	}

	chatbot, err := i.directory.ResolveChatbotOwnership(ctx, chatbotID, userID)
	if err != nil {
		return nil, err
	}

	identity := fmt.Sprintf("admin:%s:%s", userID, sessionID)
	return i.mint(identity, protocol.ChannelKey(chatbot.ID, sessionID))
}

// IssueVisitor mints a capability for a widget session. The visitor path
// authenticates by possession of the chatbot's public token.
func (i *Issuer) IssueVisitor(ctx context.Context, chatbotToken, sessionID string) (*Capability, error) {
	if chatbotToken == "" || sessionID == "" {
		return nil, fmt.Errorf("%w: missing token or sessionId", domain.ErrInvalidRequest)
	}

	chatbot, err := i.directory.ResolveChatbotByToken(ctx, chatbotToken)
	if err != nil {
		return nil, err
	}

	identity := "visitor:" + sessionID
	return i.mint(identity, protocol.ChannelKey(chatbot.ID, sessionID))
}

func (i *Issuer) mint(identity, channel string) (*Capability, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		Identity:     identity,
		Channel:      channel,
		Capabilities: []string{CapPublish, CapSubscribe, CapPresence},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := generate(i.secret, claims)
	if err != nil {
		return nil, fmt.Errorf("sign capability: %w", err)
	}

	return &Capability{
		Token:     signed,
		Identity:  identity,
		Channel:   channel,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify parses and validates a capability token. Expired tokens fail here,
// forcing the client back through the credential endpoint.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	return verify(i.secret, tokenString)
}
