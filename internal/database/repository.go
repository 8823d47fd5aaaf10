package database

import (
	"context"
	"time"
)

// Repository is the durable store behind the messaging service. Lookups of
// missing rows return sql.ErrNoRows.
type Repository interface {
	Ping() error
	Close() error

	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	GetListing(ctx context.Context, id int) (Listing, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	ListMessagesBetween(ctx context.Context, userA, userB int) ([]Message, error)
	MarkConversationRead(ctx context.Context, readerId, counterpartId int) (int64, error)
	DeleteMessage(ctx context.Context, id string) error
	ListConversations(ctx context.Context, userId int) ([]Conversation, error)

	CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error)
	GetNotification(ctx context.Context, id int) (Notification, error)
	ListNotifications(ctx context.Context, recipientId, limit, offset int) ([]Notification, int, error)
	MarkNotificationRead(ctx context.Context, id int) error
	MarkAllNotificationsRead(ctx context.Context, recipientId int) (int64, error)
	DeleteNotification(ctx context.Context, id int) error
	DeleteAllNotifications(ctx context.Context, recipientId int) (int64, error)
	PruneNotifications(ctx context.Context, readBefore time.Time) (int64, error)
}

var (
	_ Repository = (*PgRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*MockRepository)(nil)
)
