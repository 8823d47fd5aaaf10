package database

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository used for development and
// tests. Message timestamps are strictly increasing in insertion order.
type MemoryRepository struct {
	mu            sync.RWMutex
	accounts      map[int]User
	listings      map[int]Listing
	messages      []*messageRow
	notifications []*notificationRow
	nextAccount   int
	nextListing   int
	nextNotif     int
	seq           int64
	lastCreated   time.Time
	now           func() time.Time
}

type messageRow struct {
	id          string
	seq         int64
	senderId    int
	recipientId int
	content     string
	listingId   *int
	read        bool
	createdAt   time.Time
}

type notificationRow struct {
	id          int
	recipientId int
	senderId    *int
	kind        string
	content     string
	listingId   *int
	read        bool
	createdAt   time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[int]User),
		listings: make(map[int]Listing),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Ping() error  { return nil }
func (r *MemoryRepository) Close() error { return nil }

func (r *MemoryRepository) CreateAccount(_ context.Context, params CreateAccountParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.EmailAddress == params.EmailAddress || a.Username == params.Username {
			return User{}, fmt.Errorf("account already exists")
		}
	}

	r.nextAccount++
	now := r.now()
	u := User{
		Id:           r.nextAccount,
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.accounts[u.Id] = u

	return u, nil
}

func (r *MemoryRepository) GetAccountById(_ context.Context, id int) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.accounts[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return u, nil
}

func (r *MemoryRepository) GetAccountByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.accounts {
		if u.EmailAddress == email {
			return u, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (r *MemoryRepository) CreateListing(_ context.Context, params CreateListingParams) (Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[params.SellerId]; !ok {
		return Listing{}, fmt.Errorf("seller %d does not exist", params.SellerId)
	}

	r.nextListing++
	l := Listing{
		Id:        r.nextListing,
		SellerId:  params.SellerId,
		Title:     params.Title,
		Price:     params.Price,
		CreatedAt: r.now(),
	}
	r.listings[l.Id] = l

	return l, nil
}

func (r *MemoryRepository) GetListing(_ context.Context, id int) (Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.listings[id]
	if !ok {
		return Listing{}, sql.ErrNoRows
	}
	return l, nil
}

// nextTimestamp must be called with mu held.
func (r *MemoryRepository) nextTimestamp() time.Time {
	ts := r.now()
	if !ts.After(r.lastCreated) {
		ts = r.lastCreated.Add(time.Microsecond)
	}
	r.lastCreated = ts
	return ts
}

func (r *MemoryRepository) CreateMessage(_ context.Context, params CreateMessageParams) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[params.SenderId]; !ok {
		return Message{}, fmt.Errorf("sender %d does not exist", params.SenderId)
	}
	if _, ok := r.accounts[params.RecipientId]; !ok {
		return Message{}, fmt.Errorf("recipient %d does not exist", params.RecipientId)
	}

	r.seq++
	row := &messageRow{
		id:          uuid.NewString(),
		seq:         r.seq,
		senderId:    params.SenderId,
		recipientId: params.RecipientId,
		content:     params.Content,
		listingId:   params.ListingId,
		createdAt:   r.nextTimestamp(),
	}
	r.messages = append(r.messages, row)

	return r.resolveMessage(row), nil
}

// resolveMessage must be called with mu held.
func (r *MemoryRepository) resolveMessage(row *messageRow) Message {
	m := Message{
		Id:        row.id,
		Seq:       row.seq,
		Sender:    displayUser(r.accounts[row.senderId]),
		Recipient: displayUser(r.accounts[row.recipientId]),
		Content:   row.content,
		Read:      row.read,
		CreatedAt: row.createdAt,
	}
	if row.listingId != nil {
		if l, ok := r.listings[*row.listingId]; ok {
			m.Listing = &Listing{Id: l.Id, Title: l.Title, Price: l.Price}
		}
	}
	return m
}

func displayUser(u User) User {
	return User{Id: u.Id, Username: u.Username, ProfilePicture: u.ProfilePicture}
}

func (r *MemoryRepository) GetMessage(_ context.Context, id string) (Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, row := range r.messages {
		if row.id == id {
			return r.resolveMessage(row), nil
		}
	}
	return Message{}, sql.ErrNoRows
}

func between(row *messageRow, a, b int) bool {
	return (row.senderId == a && row.recipientId == b) || (row.senderId == b && row.recipientId == a)
}

func (r *MemoryRepository) ListMessagesBetween(_ context.Context, userA, userB int) ([]Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	messages := []Message{}
	for _, row := range r.messages {
		if between(row, userA, userB) {
			messages = append(messages, r.resolveMessage(row))
		}
	}
	return messages, nil
}

func (r *MemoryRepository) MarkConversationRead(_ context.Context, readerId, counterpartId int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, row := range r.messages {
		if row.recipientId == readerId && row.senderId == counterpartId && !row.read {
			row.read = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteMessage(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.IndexFunc(r.messages, func(row *messageRow) bool { return row.id == id })
	if i < 0 {
		return sql.ErrNoRows
	}
	r.messages = slices.Delete(r.messages, i, i+1)
	return nil
}

func (r *MemoryRepository) ListConversations(_ context.Context, userId int) ([]Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	latest := make(map[int]*messageRow)
	unread := make(map[int]int)
	for _, row := range r.messages {
		if row.senderId == row.recipientId {
			continue
		}

		var other int
		switch userId {
		case row.senderId:
			other = row.recipientId
		case row.recipientId:
			other = row.senderId
			if !row.read {
				unread[other]++
			}
		default:
			continue
		}

		// rows are in insertion order, so the last one seen is the latest
		latest[other] = row
	}

	conversations := make([]Conversation, 0, len(latest))
	for other, row := range latest {
		conversations = append(conversations, Conversation{
			Counterpart: displayUser(r.accounts[other]),
			LastMessage: r.resolveMessage(row),
			UnreadCount: unread[other],
		})
	}

	slices.SortFunc(conversations, func(a, b Conversation) int {
		return cmp.Compare(b.LastMessage.Seq, a.LastMessage.Seq)
	})

	return conversations, nil
}

func (r *MemoryRepository) CreateNotification(_ context.Context, params CreateNotificationParams) (Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[params.RecipientId]; !ok {
		return Notification{}, fmt.Errorf("recipient %d does not exist", params.RecipientId)
	}

	r.nextNotif++
	row := &notificationRow{
		id:          r.nextNotif,
		recipientId: params.RecipientId,
		senderId:    params.SenderId,
		kind:        params.Kind,
		content:     params.Content,
		listingId:   params.ListingId,
		createdAt:   r.now(),
	}
	r.notifications = append(r.notifications, row)

	return r.resolveNotification(row), nil
}

// resolveNotification must be called with mu held.
func (r *MemoryRepository) resolveNotification(row *notificationRow) Notification {
	n := Notification{
		Id:          row.id,
		RecipientId: row.recipientId,
		Kind:        row.kind,
		Content:     row.content,
		Read:        row.read,
		CreatedAt:   row.createdAt,
	}
	if row.senderId != nil {
		if u, ok := r.accounts[*row.senderId]; ok {
			sender := displayUser(u)
			n.Sender = &sender
		}
	}
	if row.listingId != nil {
		if l, ok := r.listings[*row.listingId]; ok {
			n.Listing = &Listing{Id: l.Id, Title: l.Title, Price: l.Price}
		}
	}
	return n
}

func (r *MemoryRepository) findNotification(id int) (int, *notificationRow) {
	for i, row := range r.notifications {
		if row.id == id {
			return i, row
		}
	}
	return -1, nil
}

func (r *MemoryRepository) GetNotification(_ context.Context, id int) (Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, row := r.findNotification(id)
	if row == nil {
		return Notification{}, sql.ErrNoRows
	}
	return r.resolveNotification(row), nil
}

func (r *MemoryRepository) ListNotifications(_ context.Context, recipientId, limit, offset int) ([]Notification, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Notification
	// newest first
	for i := len(r.notifications) - 1; i >= 0; i-- {
		if row := r.notifications[i]; row.recipientId == recipientId {
			matched = append(matched, r.resolveNotification(row))
		}
	}

	total := len(matched)
	if offset >= total {
		return []Notification{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (r *MemoryRepository) MarkNotificationRead(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, row := r.findNotification(id)
	if row == nil {
		return sql.ErrNoRows
	}
	row.read = true
	return nil
}

func (r *MemoryRepository) MarkAllNotificationsRead(_ context.Context, recipientId int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, row := range r.notifications {
		if row.recipientId == recipientId && !row.read {
			row.read = true
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteNotification(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, _ := r.findNotification(id)
	if i < 0 {
		return sql.ErrNoRows
	}
	r.notifications = slices.Delete(r.notifications, i, i+1)
	return nil
}

func (r *MemoryRepository) deleteNotificationsWhere(keep func(*notificationRow) bool) int64 {
	before := len(r.notifications)
	r.notifications = slices.DeleteFunc(r.notifications, func(row *notificationRow) bool { return !keep(row) })
	return int64(before - len(r.notifications))
}

func (r *MemoryRepository) DeleteAllNotifications(_ context.Context, recipientId int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteNotificationsWhere(func(row *notificationRow) bool {
		return row.recipientId != recipientId
	}), nil
}

func (r *MemoryRepository) PruneNotifications(_ context.Context, readBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.deleteNotificationsWhere(func(row *notificationRow) bool {
		return !row.read || !row.createdAt.Before(readBefore)
	}), nil
}
