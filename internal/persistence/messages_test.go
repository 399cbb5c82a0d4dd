package persistence

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/thathunky/gryag/internal/model"
)

func TestMessageStore_Append_ReturnsID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMessageStore(mock)

	rows := pgxmock.NewRows([]string{"id"}).AddRow(int64(42))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnRows(rows)

	id, err := store.Append(context.Background(), model.Message{
		ChatID: 1, Role: model.RoleUser, Text: "hi", TS: 1000,
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_Recent_ReordersToChronological(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMessageStore(mock)

	rows := pgxmock.NewRows([]string{"id", "chat_id", "thread_id", "user_id", "role", "text",
		"media_json", "embedding_json", "ts", "telegram_msg_id", "addressed", "reply_to_msg_id"}).
		AddRow(int64(3), int64(1), nil, nil, "user", "third", "", "", int64(3000), int64(0), false, nil).
		AddRow(int64(2), int64(1), nil, nil, "user", "second", "", "", int64(2000), int64(0), false, nil).
		AddRow(int64(1), int64(1), nil, nil, "user", "first", "", "", int64(1000), int64(0), false, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, chat_id, thread_id, user_id, role, text, media_json, embedding_json")).
		WillReturnRows(rows)

	msgs, err := store.Recent(context.Background(), 1, nil, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "first", msgs[0].Text)
	require.Equal(t, "second", msgs[1].Text)
	require.Equal(t, "third", msgs[2].Text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_GetByID_LooksUpByTelegramMsgIDNotPrimaryKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMessageStore(mock)

	rows := pgxmock.NewRows([]string{"id", "chat_id", "thread_id", "user_id", "role", "text",
		"media_json", "embedding_json", "ts", "telegram_msg_id", "addressed", "reply_to_msg_id"}).
		AddRow(int64(9), int64(1), nil, nil, "user", "replied-to", "", "", int64(1000), int64(555), false, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, chat_id, thread_id, user_id, role, text, media_json, embedding_json")).
		WithArgs(int64(1), int64(555)).
		WillReturnRows(rows)

	m, ok, err := store.GetByID(context.Background(), 1, 555)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(9), m.ID)
	require.Equal(t, "replied-to", m.Text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageStore_SemanticSearch_FiltersZeroScoreAndSorts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewMessageStore(mock)

	embA, _ := encodeVector([]float32{1, 0, 0})
	embB, _ := encodeVector([]float32{0, 1, 0}) // orthogonal -> score 0, excluded
	embC, _ := encodeVector([]float32{0.9, 0.1, 0})

	rows := pgxmock.NewRows([]string{"id", "chat_id", "thread_id", "user_id", "role", "text",
		"media_json", "embedding_json", "ts", "telegram_msg_id", "addressed", "reply_to_msg_id"}).
		AddRow(int64(1), int64(1), nil, nil, "user", "a", "", embA, int64(1000), int64(0), false, nil).
		AddRow(int64(2), int64(1), nil, nil, "user", "b", "", embB, int64(1000), int64(0), false, nil).
		AddRow(int64(3), int64(1), nil, nil, "user", "c", "", embC, int64(1000), int64(0), false, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, chat_id, thread_id, user_id, role, text, media_json, embedding_json")).
		WillReturnRows(rows)

	got, err := store.SemanticSearch(context.Background(), 1, nil, []float32{1, 0, 0}, 5, 100)
	require.NoError(t, err)
	require.Len(t, got, 2) // b excluded, score 0
	require.Equal(t, "a", got[0].Message.Text)
	require.Equal(t, "c", got[1].Message.Text)
	require.NoError(t, mock.ExpectationsWereMet())
}
