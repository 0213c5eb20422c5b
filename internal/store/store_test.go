package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchatly/livechat/internal/domain"
)

// setupMockContext routes store queries to the mock via the transaction
// context, so conn() never touches the (nil) pool.
func setupMockContext(mock pgxmock.PgxPoolIface) context.Context {
	return context.WithValue(context.Background(), txKey{}, querier(mock))
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store, context.Context) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, New(nil), setupMockContext(mock)
}

func TestCreateChatbot(t *testing.T) {
	mock, s, ctx := newMock(t)

	mock.ExpectExec("INSERT INTO chatbots").
		WithArgs(pgxmock.AnyArg(), "user_1", "Support Bot", "widget-token-a", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	cb := &domain.Chatbot{OwnerID: "user_1", Name: "Support Bot", Token: "widget-token-a"}
	require.NoError(t, s.CreateChatbot(ctx, cb))
	assert.True(t, strings.HasPrefix(cb.ID, "cb_"))
	assert.False(t, cb.CreatedAt.IsZero())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveChatbotByToken(t *testing.T) {
	mock, s, ctx := newMock(t)
	created := time.Now().UTC()

	mock.ExpectQuery("SELECT id, owner_id, name, token, created_at").
		WithArgs("widget-token-a").
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "name", "token", "created_at"}).
			AddRow("cb_a", "user_1", "Support Bot", "widget-token-a", created))

	cb, err := s.ResolveChatbotByToken(ctx, "widget-token-a")
	require.NoError(t, err)
	assert.Equal(t, "cb_a", cb.ID)
	assert.Equal(t, "user_1", cb.OwnerID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveChatbotByTokenNotFound(t *testing.T) {
	mock, s, ctx := newMock(t)

	mock.ExpectQuery("SELECT id, owner_id, name, token, created_at").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ResolveChatbotByToken(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveChatbotOwnership(t *testing.T) {
	mock, s, ctx := newMock(t)
	created := time.Now().UTC()

	mock.ExpectQuery("SELECT id, owner_id, name, token, created_at").
		WithArgs("cb_a", "user_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "name", "token", "created_at"}).
			AddRow("cb_a", "user_1", "Support Bot", "widget-token-a", created))

	cb, err := s.ResolveChatbotOwnership(ctx, "cb_a", "user_1")
	require.NoError(t, err)
	assert.Equal(t, "cb_a", cb.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveChatbotOwnershipRejectsNonOwner(t *testing.T) {
	mock, s, ctx := newMock(t)

	mock.ExpectQuery("SELECT id, owner_id, name, token, created_at").
		WithArgs("cb_a", "user_2").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.ResolveChatbotOwnership(ctx, "cb_a", "user_2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessage(t *testing.T) {
	mock, s, ctx := newMock(t)
	ts := time.Now().UTC()

	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs(pgxmock.AnyArg(), "cb_a", "sess_1", "user", "hours?", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// Transcript write touches the widget session in the same transaction.
	mock.ExpectExec("INSERT INTO widget_sessions").
		WithArgs(pgxmock.AnyArg(), "cb_a", "sess_1", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	msgID, err := s.AppendMessage(ctx, "cb_a", "sess_1", domain.ByUser, "hours?", ts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msgID, "msg_"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMessages(t *testing.T) {
	mock, s, ctx := newMock(t)
	ts := time.Now().UTC()

	mock.ExpectQuery("SELECT id, chatbot_id, session_id, message_by, text, created_at").
		WithArgs("cb_a", "sess_1", 200).
		WillReturnRows(pgxmock.NewRows([]string{"id", "chatbot_id", "session_id", "message_by", "text", "created_at"}).
			AddRow("msg_1", "cb_a", "sess_1", "user", "hours?", ts).
			AddRow("msg_2", "cb_a", "sess_1", "bot", "9-5 weekdays", ts.Add(time.Second)))

	messages, err := s.ListMessages(ctx, "cb_a", "sess_1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, domain.ByUser, messages[0].By)
	assert.Equal(t, domain.ByBot, messages[1].By)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchWidgetSession(t *testing.T) {
	mock, s, ctx := newMock(t)
	ts := time.Now().UTC()

	mock.ExpectExec("INSERT INTO widget_sessions").
		WithArgs(pgxmock.AnyArg(), "cb_a", "sess_1", ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.TouchWidgetSession(ctx, "cb_a", "sess_1", ts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWidgetSessions(t *testing.T) {
	mock, s, ctx := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("cb_a").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	mock.ExpectQuery("SELECT id, chatbot_id, session_id, started_at, last_seen_at").
		WithArgs("cb_a", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "chatbot_id", "session_id", "started_at", "last_seen_at"}).
			AddRow("sess_row1", "cb_a", "sess_1", now.Add(-time.Hour), now).
			AddRow("sess_row2", "cb_a", "sess_2", now.Add(-2*time.Hour), now.Add(-time.Minute)))

	sessions, total, err := s.ListWidgetSessions(ctx, "cb_a", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess_1", sessions[0].SessionID)

	require.NoError(t, mock.ExpectationsWereMet())
}
