package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetListing(ctx context.Context, id int) (Listing, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Listing), args.Error(1)
}
func (m *MockRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) ListMessagesBetween(ctx context.Context, userA, userB int) ([]Message, error) {
	args := m.Called(ctx, userA, userB)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) MarkConversationRead(ctx context.Context, readerId, counterpartId int) (int64, error) {
	args := m.Called(ctx, readerId, counterpartId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) DeleteMessage(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepository) ListConversations(ctx context.Context, userId int) ([]Conversation, error) {
	args := m.Called(ctx, userId)
	if convs, ok := args.Get(0).([]Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockRepository) GetNotification(ctx context.Context, id int) (Notification, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockRepository) ListNotifications(ctx context.Context, recipientId, limit, offset int) ([]Notification, int, error) {
	args := m.Called(ctx, recipientId, limit, offset)
	if ns, ok := args.Get(0).([]Notification); ok {
		return ns, args.Int(1), args.Error(2)
	}
	return nil, args.Int(1), args.Error(2)
}
func (m *MockRepository) MarkNotificationRead(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepository) MarkAllNotificationsRead(ctx context.Context, recipientId int) (int64, error) {
	args := m.Called(ctx, recipientId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) DeleteNotification(ctx context.Context, id int) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRepository) DeleteAllNotifications(ctx context.Context, recipientId int) (int64, error) {
	args := m.Called(ctx, recipientId)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepository) PruneNotifications(ctx context.Context, readBefore time.Time) (int64, error) {
	args := m.Called(ctx, readBefore)
	return args.Get(0).(int64), args.Error(1)
}
