package store

import (
	"context"
	"time"

	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/id"
)

// CreateChatbot inserts a chatbot record. Ownership and settings beyond the
// widget token live with the dashboard; this is the slice the relay needs.
func (s *Store) CreateChatbot(ctx context.Context, cb *domain.Chatbot) error {
	if cb.ID == "" {
		cb.ID = id.NewChatbot()
	}
	if cb.CreatedAt.IsZero() {
		cb.CreatedAt = time.Now().UTC()
	}

	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO chatbots (id, owner_id, name, token, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		cb.ID, cb.OwnerID, cb.Name, cb.Token, cb.CreatedAt)
	if err != nil {
		return WrapError("create chatbot", err)
	}
	return nil
}

// ResolveChatbotByToken implements domain.Directory for the visitor path.
func (s *Store) ResolveChatbotByToken(ctx context.Context, token string) (*domain.Chatbot, error) {
	var cb domain.Chatbot
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, owner_id, name, token, created_at
		FROM chatbots
		WHERE token = $1`,
		token).Scan(&cb.ID, &cb.OwnerID, &cb.Name, &cb.Token, &cb.CreatedAt)
	if err != nil {
		return nil, WrapNotFound("resolve chatbot by token", err)
	}
	return &cb, nil
}

// ResolveChatbotOwnership implements domain.Directory for the admin path:
// the chatbot must exist and belong to userID.
func (s *Store) ResolveChatbotOwnership(ctx context.Context, chatbotID, userID string) (*domain.Chatbot, error) {
	var cb domain.Chatbot
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, owner_id, name, token, created_at
		FROM chatbots
		WHERE id = $1 AND owner_id = $2`,
		chatbotID, userID).Scan(&cb.ID, &cb.OwnerID, &cb.Name, &cb.Token, &cb.CreatedAt)
	if err != nil {
		return nil, WrapNotFound("resolve chatbot ownership", err)
	}
	return &cb, nil
}
