package store

import (
	"context"
	"time"

	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/id"
)

// TouchWidgetSession upserts the visitor-session record: first write sets
// started_at, every write advances last_seen_at.
func (s *Store) TouchWidgetSession(ctx context.Context, chatbotID, sessionID string, seenAt time.Time) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO widget_sessions (id, chatbot_id, session_id, started_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (chatbot_id, session_id) DO UPDATE SET
			last_seen_at = GREATEST(widget_sessions.last_seen_at, EXCLUDED.last_seen_at)`,
		id.NewSession(), chatbotID, sessionID, seenAt)
	if err != nil {
		return WrapError("touch widget session", err)
	}
	return nil
}

// ListWidgetSessions pages a chatbot's visitor sessions, most recently seen
// first — the dashboard's live-chats listing.
func (s *Store) ListWidgetSessions(ctx context.Context, chatbotID string, limit, offset int) ([]*domain.WidgetSession, int, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM widget_sessions WHERE chatbot_id = $1`,
		chatbotID).Scan(&total)
	if err != nil {
		return nil, 0, WrapError("count widget sessions", err)
	}

	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, chatbot_id, session_id, started_at, last_seen_at
		FROM widget_sessions
		WHERE chatbot_id = $1
		ORDER BY last_seen_at DESC
		LIMIT $2 OFFSET $3`,
		chatbotID, limit, offset)
	if err != nil {
		return nil, 0, WrapError("list widget sessions", err)
	}
	defer rows.Close()

	var sessions []*domain.WidgetSession
	for rows.Next() {
		var ws domain.WidgetSession
		if err := rows.Scan(&ws.ID, &ws.ChatbotID, &ws.SessionID, &ws.StartedAt, &ws.LastSeenAt); err != nil {
			return nil, 0, WrapError("scan widget session", err)
		}
		sessions = append(sessions, &ws)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, WrapError("list widget sessions", err)
	}
	return sessions, total, nil
}
