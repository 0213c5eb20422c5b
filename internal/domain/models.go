package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrUpstream         = errors.New("upstream unavailable")
)

// Role identifies which side of a live-chat channel a party is on.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleVisitor Role = "visitor"
	RoleSystem  Role = "system"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleVisitor
}

// Opposite returns the role a relayed message is delivered to.
func (r Role) Opposite() Role {
	if r == RoleAdmin {
		return RoleVisitor
	}
	return RoleAdmin
}

// MessageBy tags who produced a transcript entry.
type MessageBy string

const (
	ByUser  MessageBy = "user"
	ByAdmin MessageBy = "admin"
	ByBot   MessageBy = "bot"
)

func (b MessageBy) Valid() bool {
	return b == ByUser || b == ByAdmin || b == ByBot
}

type Chatbot struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Token     string    `json:"token"` // public widget token, 32 bytes base64url
	CreatedAt time.Time `json:"created_at"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	ChatbotID string    `json:"chatbot_id"`
	SessionID string    `json:"session_id"`
	By        MessageBy `json:"message_by"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type WidgetSession struct {
	ID         string    `json:"id"`
	ChatbotID  string    `json:"chatbot_id"`
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Directory resolves chatbots for the credential issuer and the relay.
// Backed by the persistent chatbot store; the surrounding dashboard owns writes.
type Directory interface {
	ResolveChatbotByToken(ctx context.Context, token string) (*Chatbot, error)
	ResolveChatbotOwnership(ctx context.Context, chatbotID, userID string) (*Chatbot, error)
}

// Transcript is the durable log. The relay delivers, the transcript persists;
// every envelope that crosses a channel goes through here exactly once.
type Transcript interface {
	AppendMessage(ctx context.Context, chatbotID, sessionID string, by MessageBy, text string, ts time.Time) (string, error)
}

// Answerer is the retrieval-bot endpoint, invoked only while no admin is attached.
type Answerer interface {
	Answer(ctx context.Context, chatbotID, visitorText string) (string, error)
}

// Notifier tracks visitor messages awaiting a human. VisitorWaiting arms an
// out-of-band alert; Answered cancels a pending one.
type Notifier interface {
	VisitorWaiting(chatbotID, sessionID string)
	Answered(chatbotID, sessionID string)
}
