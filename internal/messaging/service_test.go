package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/campus-chat/internal/cache"
	"github.com/npezzotti/campus-chat/internal/database"
	"github.com/npezzotti/campus-chat/internal/stats"
	"github.com/npezzotti/campus-chat/internal/testutil"
	"github.com/npezzotti/campus-chat/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type notifyCall struct {
	recipientId int
	kind        types.NotificationKind
	payload     types.NotificationPayload
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) Notify(recipientId int, kind types.NotificationKind, payload types.NotificationPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{recipientId, kind, payload})
}

type fixture struct {
	svc      *Service
	repo     *database.MemoryRepository
	notifier *recordingNotifier
	alice    database.User
	bob      database.User
	carol    database.User
	listing  database.Listing
}

func newStatsMock() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return().Maybe()
	return su
}

func newFixture(t *testing.T, cache ConversationCache) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := database.NewMemoryRepository()

	account := func(name string) database.User {
		u, err := repo.CreateAccount(ctx, database.CreateAccountParams{
			Username:     name,
			EmailAddress: name + "@campus.edu",
			PasswordHash: "hash",
		})
		require.NoError(t, err)
		return u
	}

	f := &fixture{
		repo:     repo,
		notifier: &recordingNotifier{},
		alice:    account("alice"),
		bob:      account("bob"),
		carol:    account("carol"),
	}

	listing, err := repo.CreateListing(ctx, database.CreateListingParams{
		SellerId: f.bob.Id,
		Title:    "Calculus textbook",
		Price:    decimal.RequireFromString("30"),
	})
	require.NoError(t, err)
	f.listing = listing

	f.svc = NewService(testutil.TestLogger(t), repo, f.notifier, cache, newStatsMock())
	return f
}

func TestService_Send(t *testing.T) {
	tooLong := strings.Repeat("é", MaxContentLength+1)
	maxLen := strings.Repeat("é", MaxContentLength)

	tcases := []struct {
		name      string
		params    func(f *fixture) SendParams
		wantErr   error
		wantMsg   string
		wantNotif bool
	}{
		{
			name: "sends a message",
			params: func(f *fixture) SendParams {
				return SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "Is the calculus textbook still available?"}
			},
			wantMsg:   "Is the calculus textbook still available?",
			wantNotif: true,
		},
		{
			name: "trims content",
			params: func(f *fixture) SendParams {
				return SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "  hello \n"}
			},
			wantMsg:   "hello",
			wantNotif: true,
		},
		{
			name: "accepts content at the maximum length",
			params: func(f *fixture) SendParams {
				return SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: maxLen}
			},
			wantMsg:   maxLen,
			wantNotif: true,
		},
		{
			name: "rejects whitespace content",
			params: func(f *fixture) SendParams {
				return SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "   "}
			},
			wantErr: ErrValidation,
		},
		{
			name: "rejects content over the maximum length",
			params: func(f *fixture) SendParams {
				return SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: tooLong}
			},
			wantErr: ErrValidation,
		},
		{
			name: "rejects missing recipient",
			params: func(f *fixture) SendParams {
				return SendParams{SenderId: f.alice.Id, Content: "hi"}
			},
			wantErr: ErrValidation,
		},
		{
			name: "unknown recipient",
			params: func(f *fixture) SendParams {
				return SendParams{SenderId: f.alice.Id, RecipientId: 999, Content: "hi"}
			},
			wantErr: ErrNotFound,
		},
		{
			name: "unknown listing",
			params: func(f *fixture) SendParams {
				id := 999
				return SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "hi", ListingId: &id}
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			msg, err := f.svc.Send(context.Background(), tc.params(f))

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, f.notifier.calls, "expected no notification on failure")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantMsg, msg.Content)
			assert.False(t, msg.Read, "expected new message to be unread")
			assert.Equal(t, "alice", msg.Sender.Username)
			assert.Equal(t, "bob", msg.Recipient.Username)
			if tc.wantNotif {
				require.Len(t, f.notifier.calls, 1)
				assert.Equal(t, f.bob.Id, f.notifier.calls[0].recipientId)
				assert.Equal(t, types.NotificationMessage, f.notifier.calls[0].kind)
				assert.Equal(t, f.alice.Id, f.notifier.calls[0].payload.SenderId)
			}
		})
	}
}

func TestService_Send_ValidationMessage(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Send(context.Background(), SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id})
	assert.EqualError(t, err, "validation failed: content is required")

	_, err = f.svc.Send(context.Background(), SendParams{SenderId: f.alice.Id, Content: "hi"})
	assert.EqualError(t, err, "validation failed: recipient_id is required")
}

func TestService_Send_ResolvesListing(t *testing.T) {
	f := newFixture(t, nil)

	msg, err := f.svc.Send(context.Background(), SendParams{
		SenderId:    f.alice.Id,
		RecipientId: f.bob.Id,
		Content:     "still for sale?",
		ListingId:   &f.listing.Id,
	})
	require.NoError(t, err)
	require.NotNil(t, msg.RelatedListing)
	assert.Equal(t, "Calculus textbook", msg.RelatedListing.Title)
	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, &f.listing.Id, f.notifier.calls[0].payload.ListingId)
}

func TestService_SendThenHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "hello bob"})
	require.NoError(t, err)

	history, err := f.svc.History(ctx, f.alice.Id, f.bob.Id)
	require.NoError(t, err)

	count := 0
	for _, m := range history {
		if m.Id == sent.Id {
			count++
			assert.False(t, m.Read, "expected sender's view to leave the message unread")
		}
	}
	assert.Equal(t, 1, count, "expected the sent message exactly once")

	// the sender viewing does not mark anything
	n, err := f.svc.MarkRead(ctx, f.alice.Id, f.bob.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestService_ReadStateScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sent, err := f.svc.Send(ctx, SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "Is the calculus textbook still available?"})
	require.NoError(t, err)

	convs, err := f.svc.Conversations(ctx, f.bob.Id)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, f.alice.Id, convs[0].Counterpart.Id)
	assert.Equal(t, sent.Content, convs[0].LastMessage.Content)
	assert.GreaterOrEqual(t, convs[0].UnreadCount, 1)

	first, err := f.svc.History(ctx, f.bob.Id, f.alice.Id)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.False(t, first[0].Read, "expected the response to reflect pre-mark state")

	n, err := f.svc.MarkRead(ctx, f.bob.Id, f.alice.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	second, err := f.svc.History(ctx, f.bob.Id, f.alice.Id)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].Read)
	assert.Equal(t, first[0].Id, second[0].Id, "expected the same sequence on repeated views")

	n, err = f.svc.MarkRead(ctx, f.bob.Id, f.alice.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "expected second mark to be a no-op")

	convs, err = f.svc.Conversations(ctx, f.bob.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].UnreadCount)

	aliceConvs, err := f.svc.Conversations(ctx, f.alice.Id)
	require.NoError(t, err)
	require.Len(t, aliceConvs, 1)
	assert.Equal(t, sent.Id, aliceConvs[0].LastMessage.Id, "expected sender to still see the message as latest")
	assert.Equal(t, 0, aliceConvs[0].UnreadCount)
}

func TestService_History_UnknownCounterpart(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.History(context.Background(), f.alice.Id, 4242)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.History(context.Background(), f.alice.Id, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_Delete(t *testing.T) {
	tcases := []struct {
		name    string
		actor   func(f *fixture) int
		id      func(sent types.Message) string
		wantErr error
	}{
		{
			name:  "sender deletes",
			actor: func(f *fixture) int { return f.alice.Id },
			id:    func(sent types.Message) string { return sent.Id },
		},
		{
			name:  "recipient deletes",
			actor: func(f *fixture) int { return f.bob.Id },
			id:    func(sent types.Message) string { return sent.Id },
		},
		{
			name:    "non participant is forbidden",
			actor:   func(f *fixture) int { return f.carol.Id },
			id:      func(sent types.Message) string { return sent.Id },
			wantErr: ErrForbidden,
		},
		{
			name:    "unknown message",
			actor:   func(f *fixture) int { return f.alice.Id },
			id:      func(types.Message) string { return uuid.NewString() },
			wantErr: ErrNotFound,
		},
		{
			name:    "malformed id",
			actor:   func(f *fixture) int { return f.alice.Id },
			id:      func(types.Message) string { return "not-a-uuid" },
			wantErr: ErrValidation,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			sent, err := f.svc.Send(ctx, SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "delete me"})
			require.NoError(t, err)

			err = f.svc.Delete(ctx, tc.actor(f), tc.id(sent))
			history, herr := f.svc.History(ctx, f.alice.Id, f.bob.Id)
			require.NoError(t, herr)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Len(t, history, 1, "expected message to survive a failed delete")
				return
			}

			assert.NoError(t, err)
			assert.Empty(t, history, "expected message to be gone from history")
		})
	}
}

func TestService_StoreFailuresPropagate(t *testing.T) {
	repo := &database.MockRepository{}
	defer repo.AssertExpectations(t)

	dbErr := errors.New("connection refused")
	repo.On("ListConversations", mock.Anything, 1).Return(nil, dbErr).Once()
	repo.On("MarkConversationRead", mock.Anything, 1, 2).Return(int64(0), dbErr).Once()
	repo.On("GetAccountById", mock.Anything, 3).Return(database.User{}, sql.ErrNoRows).Once()

	svc := NewService(testutil.TestLogger(t), repo, &recordingNotifier{}, nil, newStatsMock())

	_, err := svc.Conversations(context.Background(), 1)
	assert.ErrorIs(t, err, dbErr)

	_, err = svc.MarkRead(context.Background(), 1, 2)
	assert.ErrorIs(t, err, dbErr)

	_, err = svc.History(context.Background(), 1, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingCache struct {
	mu          sync.Mutex
	entries     map[int][]types.Conversation
	versions    map[int]int64
	invalidated []int
	failGet     bool
}

func (c *countingCache) Get(_ context.Context, userId int) ([]types.Conversation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, fmt.Errorf("cache down")
	}
	v, ok := c.entries[userId]
	return v, ok, nil
}

func (c *countingCache) Version(_ context.Context, userId int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userId], nil
}

func (c *countingCache) Set(_ context.Context, userId int, version int64, convs []types.Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userId] == version {
		c.entries[userId] = convs
	}
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, userIds ...int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIds {
		delete(c.entries, id)
		c.versions[id]++
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

func TestService_ConversationCacheInvalidation(t *testing.T) {
	cache := &countingCache{entries: make(map[int][]types.Conversation), versions: make(map[int]int64)}
	f := newFixture(t, cache)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "one"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{f.alice.Id, f.bob.Id}, cache.invalidated)

	convs, err := f.svc.Conversations(ctx, f.bob.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Contains(t, cache.entries, f.bob.Id, "expected result to be cached")

	_, err = f.svc.MarkRead(ctx, f.bob.Id, f.alice.Id)
	require.NoError(t, err)
	assert.NotContains(t, cache.entries, f.bob.Id, "expected mark-read to invalidate the reader")

	convs, err = f.svc.Conversations(ctx, f.bob.Id)
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].UnreadCount, "expected fresh unread count after invalidation")

	cache.failGet = true
	convs, err = f.svc.Conversations(ctx, f.bob.Id)
	require.NoError(t, err, "expected cache failure to fall back to the store")
	assert.Len(t, convs, 1)
}

// pausingStore runs beforeReturn once, after conversations were computed and
// before they are handed back.
type pausingStore struct {
	*database.MemoryRepository
	beforeReturn func()
}

func (s *pausingStore) ListConversations(ctx context.Context, userId int) ([]database.Conversation, error) {
	convs, err := s.MemoryRepository.ListConversations(ctx, userId)
	if fn := s.beforeReturn; fn != nil {
		s.beforeReturn = nil
		fn()
	}
	return convs, err
}

func TestService_ConversationsDiscardsListOutdatedBySend(t *testing.T) {
	f := newFixture(t, nil)
	store := &pausingStore{MemoryRepository: f.repo}
	svc := NewService(testutil.TestLogger(t), store, f.notifier, cache.NewMemoryConversationCache(time.Minute), newStatsMock())
	ctx := context.Background()

	store.beforeReturn = func() {
		_, err := svc.Send(ctx, SendParams{SenderId: f.alice.Id, RecipientId: f.bob.Id, Content: "still selling?"})
		require.NoError(t, err)
	}

	convs, err := svc.Conversations(ctx, f.bob.Id)
	require.NoError(t, err)
	assert.Empty(t, convs, "expected the list computed before the send")

	convs, err = svc.Conversations(ctx, f.bob.Id)
	require.NoError(t, err)
	require.Len(t, convs, 1, "expected the outdated list not to have been cached")
	assert.Equal(t, 1, convs[0].UnreadCount)
}

func TestValidateContent(t *testing.T) {
	got, err := ValidateContent("  see you at 3pm ")
	assert.NoError(t, err)
	assert.Equal(t, "see you at 3pm", got)

	_, err = ValidateContent("\t\n")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ValidateContent(strings.Repeat("a", MaxContentLength+1))
	assert.ErrorIs(t, err, ErrValidation)
}
