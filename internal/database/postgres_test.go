package database

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageColumnNames = []string{
	"id", "seq", "content", "read", "created_at",
	"sender_id", "sender_username", "sender_picture",
	"recipient_id", "recipient_username", "recipient_picture",
	"listing_id", "listing_title", "listing_price",
}

func newMockRepo(t *testing.T) (*PgRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err, "failed to open sqlmock")
	t.Cleanup(func() {
		db.Close()
	})

	return NewPgRepositoryFromDB(db), mock
}

func TestPgRepository_CreateMessage(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Now().UTC()
	listingId := 7

	rows := sqlmock.NewRows(messageColumnNames).AddRow(
		"0f8fad5b-d9cb-469f-a165-70867728950e", 1, "Is the calculus textbook still available?", false, created,
		1, "alice", "", 2, "bob", "",
		7, "Calculus, 8th edition", "25.00",
	)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages (id, sender_id, recipient_id, content, listing_id)")).
		WithArgs(sqlmock.AnyArg(), 1, 2, "Is the calculus textbook still available?", int64(7)).
		WillReturnRows(rows)

	msg, err := repo.CreateMessage(context.Background(), CreateMessageParams{
		SenderId:    1,
		RecipientId: 2,
		Content:     "Is the calculus textbook still available?",
		ListingId:   &listingId,
	})
	require.NoError(t, err)

	assert.Equal(t, "alice", msg.Sender.Username)
	assert.Equal(t, "bob", msg.Recipient.Username)
	assert.False(t, msg.Read, "expected new message to be unread")
	if assert.NotNil(t, msg.Listing, "expected listing to be resolved") {
		assert.Equal(t, 7, msg.Listing.Id)
		assert.True(t, decimal.RequireFromString("25").Equal(msg.Listing.Price))
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_ListMessagesBetween(t *testing.T) {
	repo, mock := newMockRepo(t)
	t0 := time.Now().UTC()

	rows := sqlmock.NewRows(messageColumnNames).
		AddRow("a", 1, "hi", true, t0, 1, "alice", "", 2, "bob", "", nil, nil, nil).
		AddRow("b", 2, "hello", false, t0, 2, "bob", "", 1, "alice", "", nil, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY m.created_at ASC, m.seq ASC")).
		WithArgs(1, 2).
		WillReturnRows(rows)

	msgs, err := repo.ListMessagesBetween(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Id)
	assert.Equal(t, "b", msgs[1].Id)
	assert.Nil(t, msgs[0].Listing, "expected no listing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_MarkConversationRead(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET read = true WHERE recipient_id = $1 AND sender_id = $2 AND NOT read")).
		WithArgs(2, 1).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET read = true")).
		WithArgs(2, 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := repo.MarkConversationRead(context.Background(), 2, 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = repo.MarkConversationRead(context.Background(), 2, 1)
	assert.NoError(t, err, "expected second mark to be a no-op")
	assert.Equal(t, int64(0), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_DeleteMessage(t *testing.T) {
	tcases := []struct {
		name     string
		affected int64
		execErr  error
		wantErr  error
	}{
		{name: "deletes existing message", affected: 1},
		{name: "missing message", affected: 0, wantErr: sql.ErrNoRows},
		{name: "database error", execErr: errors.New("db down"), wantErr: errors.New("db down")},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			exp := mock.ExpectExec(regexp.QuoteMeta("DELETE FROM messages WHERE id = $1")).WithArgs("msg-1")
			if tc.execErr != nil {
				exp.WillReturnError(tc.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tc.affected))
			}

			err := repo.DeleteMessage(context.Background(), "msg-1")
			if tc.wantErr != nil {
				assert.EqualError(t, err, tc.wantErr.Error())
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPgRepository_ListConversations(t *testing.T) {
	repo, mock := newMockRepo(t)
	t0 := time.Now().UTC()

	cols := append(append([]string{}, messageColumnNames...), "unread")
	rows := sqlmock.NewRows(cols).
		AddRow("m2", 5, "see you at 3pm", false, t0, 3, "carol", "c.png", 1, "alice", "", nil, nil, nil, 2).
		AddRow("m1", 4, "thanks", true, t0.Add(-time.Minute), 1, "alice", "", 2, "bob", "", nil, nil, nil, 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (x.counterpart_id)")).
		WithArgs(1).
		WillReturnRows(rows)

	convs, err := repo.ListConversations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	assert.Equal(t, 3, convs[0].Counterpart.Id, "expected sender to be the counterpart")
	assert.Equal(t, "carol", convs[0].Counterpart.Username)
	assert.Equal(t, 2, convs[0].UnreadCount)
	assert.Equal(t, 2, convs[1].Counterpart.Id, "expected recipient to be the counterpart")
	assert.Equal(t, 0, convs[1].UnreadCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_GetMessage_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE m.id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(messageColumnNames))

	_, err := repo.GetMessage(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_ListNotifications(t *testing.T) {
	repo, mock := newMockRepo(t)
	t0 := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE recipient_id = $1")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY n.created_at DESC, n.id DESC LIMIT $2 OFFSET $3")).
		WithArgs(2, 2, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "recipient_id", "kind", "content", "read", "created_at",
			"sender_id", "sender_username", "sender_picture",
			"listing_id", "listing_title", "listing_price",
		}).
			AddRow(3, 2, "message", "sent you a new message", false, t0, 1, "alice", "", nil, nil, nil).
			AddRow(2, 2, "system", "welcome", true, t0, nil, nil, nil, nil, nil, nil))

	ns, total, err := repo.ListNotifications(context.Background(), 2, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, ns, 2)
	if assert.NotNil(t, ns[0].Sender) {
		assert.Equal(t, "alice", ns[0].Sender.Username)
	}
	assert.Nil(t, ns[1].Sender, "expected system notification to have no sender")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepository_PruneNotifications(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Now().UTC().Add(-time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE read AND created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.PruneNotifications(context.Background(), cutoff)
	assert.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
