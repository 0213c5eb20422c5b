package store

import (
	"context"
	"time"

	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/id"
)

// AppendMessage implements domain.Transcript. Every envelope the relay
// delivers is logged here exactly once by the caller; the widget-session
// record is touched in the same transaction so the dashboard's "last seen"
// ordering stays consistent with the transcript.
func (s *Store) AppendMessage(ctx context.Context, chatbotID, sessionID string, by domain.MessageBy, text string, ts time.Time) (string, error) {
	msgID := id.NewMessage()

	err := s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.conn(ctx).Exec(ctx, `
			INSERT INTO chat_messages (id, chatbot_id, session_id, message_by, text, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			msgID, chatbotID, sessionID, string(by), text, ts)
		if err != nil {
			return WrapError("append message", err)
		}
		return s.TouchWidgetSession(ctx, chatbotID, sessionID, ts)
	})
	if err != nil {
		return "", err
	}
	return msgID, nil
}

// ListMessages returns a session's transcript in chronological order.
func (s *Store) ListMessages(ctx context.Context, chatbotID, sessionID string, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, chatbot_id, session_id, message_by, text, created_at
		FROM chat_messages
		WHERE chatbot_id = $1 AND session_id = $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3`,
		chatbotID, sessionID, limit)
	if err != nil {
		return nil, WrapError("list messages", err)
	}
	defer rows.Close()

	var messages []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var by string
		if err := rows.Scan(&m.ID, &m.ChatbotID, &m.SessionID, &by, &m.Text, &m.Timestamp); err != nil {
			return nil, WrapError("scan message", err)
		}
		m.By = domain.MessageBy(by)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError("list messages", err)
	}
	return messages, nil
}
