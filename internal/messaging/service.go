// Package messaging implements the durable side of private messaging: sending,
// history, read-state and per-user conversation summaries.
package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/npezzotti/campus-chat/internal/database"
	"github.com/npezzotti/campus-chat/internal/stats"
	"github.com/npezzotti/campus-chat/internal/types"
	"go.uber.org/zap"
)

// MaxContentLength is the maximum message length in characters.
const MaxContentLength = 1000

const newMessageNotification = "sent you a new message"

const (
	metricMessagesSent    = "MessagesSent"
	metricMessagesDeleted = "MessagesDeleted"
)

// Store is the subset of the repository used by the messaging service.
type Store interface {
	GetAccountById(ctx context.Context, id int) (database.User, error)
	GetListing(ctx context.Context, id int) (database.Listing, error)
	CreateMessage(ctx context.Context, params database.CreateMessageParams) (database.Message, error)
	GetMessage(ctx context.Context, id string) (database.Message, error)
	ListMessagesBetween(ctx context.Context, userA, userB int) ([]database.Message, error)
	MarkConversationRead(ctx context.Context, readerId, counterpartId int) (int64, error)
	DeleteMessage(ctx context.Context, id string) error
	ListConversations(ctx context.Context, userId int) ([]database.Conversation, error)
}

// Notifier receives one-way notification requests. Implementations must not
// block and must not report failures back to the caller.
type Notifier interface {
	Notify(recipientId int, kind types.NotificationKind, payload types.NotificationPayload)
}

// ConversationCache caches conversation lists per user. Entries must be
// invalidated whenever a message involving the user is created, read or
// deleted. Invalidate bumps the user's version; Set must discard a list
// computed under an older version.
type ConversationCache interface {
	Get(ctx context.Context, userId int) ([]types.Conversation, bool, error)
	Version(ctx context.Context, userId int) (int64, error)
	Set(ctx context.Context, userId int, version int64, conversations []types.Conversation) error
	Invalidate(ctx context.Context, userIds ...int) error
}

type SendParams struct {
	SenderId    int    `json:"sender_id" validate:"required,gt=0"`
	RecipientId int    `json:"recipient_id" validate:"required,gt=0"`
	Content     string `json:"content" validate:"required,max=1000"`
	ListingId   *int   `json:"related_listing_id" validate:"omitempty,gt=0"`
}

type Service struct {
	log      *zap.Logger
	store    Store
	notifier Notifier
	cache    ConversationCache
	stats    stats.StatsProvider
	validate *validator.Validate
}

func NewService(logger *zap.Logger, store Store, notifier Notifier, cache ConversationCache, su stats.StatsProvider) *Service {
	if cache == nil {
		cache = nopCache{}
	}

	su.RegisterMetric(metricMessagesSent)
	su.RegisterMetric(metricMessagesDeleted)

	return &Service{
		log:      logger.Named("messaging"),
		store:    store,
		notifier: notifier,
		cache:    cache,
		stats:    su,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Send persists a new unread message and notifies the recipient. Content is
// trimmed before validation.
func (s *Service) Send(ctx context.Context, params SendParams) (types.Message, error) {
	params.Content = strings.TrimSpace(params.Content)
	if err := s.validate.Struct(params); err != nil {
		return types.Message{}, validationError(err)
	}

	if err := s.requireAccount(ctx, params.SenderId, "sender"); err != nil {
		return types.Message{}, err
	}
	if err := s.requireAccount(ctx, params.RecipientId, "recipient"); err != nil {
		return types.Message{}, err
	}

	if params.ListingId != nil {
		if _, err := s.store.GetListing(ctx, *params.ListingId); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return types.Message{}, fmt.Errorf("%w: listing %d", ErrNotFound, *params.ListingId)
			}
			return types.Message{}, fmt.Errorf("get listing: %w", err)
		}
	}

	dbMsg, err := s.store.CreateMessage(ctx, database.CreateMessageParams{
		SenderId:    params.SenderId,
		RecipientId: params.RecipientId,
		Content:     params.Content,
		ListingId:   params.ListingId,
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	s.invalidate(ctx, params.SenderId, params.RecipientId)
	s.stats.Incr(metricMessagesSent)

	s.notifier.Notify(params.RecipientId, types.NotificationMessage, types.NotificationPayload{
		SenderId:  params.SenderId,
		ListingId: params.ListingId,
		Content:   newMessageNotification,
	})

	return ToMessage(dbMsg), nil
}

// History returns every message exchanged between viewerId and counterpartId,
// oldest first. It does not change read state; see MarkRead.
func (s *Service) History(ctx context.Context, viewerId, counterpartId int) ([]types.Message, error) {
	if counterpartId <= 0 {
		return nil, fmt.Errorf("%w: counterpart is required", ErrValidation)
	}
	if err := s.requireAccount(ctx, counterpartId, "user"); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessagesBetween(ctx, viewerId, counterpartId)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	return toMessages(msgs), nil
}

// MarkRead flips every unread message sent by counterpartId to readerId. It is
// idempotent and returns the number of messages changed.
func (s *Service) MarkRead(ctx context.Context, readerId, counterpartId int) (int64, error) {
	n, err := s.store.MarkConversationRead(ctx, readerId, counterpartId)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}

	if n > 0 {
		s.invalidate(ctx, readerId)
	}

	return n, nil
}

// Delete hard-deletes a message. Only its sender or recipient may do so.
func (s *Service) Delete(ctx context.Context, actorId int, messageId string) error {
	if _, err := uuid.Parse(messageId); err != nil {
		return fmt.Errorf("%w: invalid message id", ErrValidation)
	}

	msg, err := s.store.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: message %s", ErrNotFound, messageId)
		}
		return fmt.Errorf("get message: %w", err)
	}

	if actorId != msg.Sender.Id && actorId != msg.Recipient.Id {
		return fmt.Errorf("%w: only the sender or recipient may delete a message", ErrForbidden)
	}

	if err := s.store.DeleteMessage(ctx, messageId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: message %s", ErrNotFound, messageId)
		}
		return fmt.Errorf("delete message: %w", err)
	}

	s.invalidate(ctx, msg.Sender.Id, msg.Recipient.Id)
	s.stats.Incr(metricMessagesDeleted)

	return nil
}

// Conversations returns userId's conversation summaries, most recent first.
func (s *Service) Conversations(ctx context.Context, userId int) ([]types.Conversation, error) {
	cached, ok, err := s.cache.Get(ctx, userId)
	if err != nil {
		s.log.Warn("conversation cache get failed", zap.Int("user_id", userId), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	// The version is read before the store so that a send racing with this
	// call keeps the result out of the cache.
	version, verr := s.cache.Version(ctx, userId)

	convs, err := s.store.ListConversations(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	result := toConversations(convs)
	if verr != nil {
		s.log.Warn("conversation cache version failed", zap.Int("user_id", userId), zap.Error(verr))
	} else if err := s.cache.Set(ctx, userId, version, result); err != nil {
		s.log.Warn("conversation cache set failed", zap.Int("user_id", userId), zap.Error(err))
	}

	return result, nil
}

func (s *Service) requireAccount(ctx context.Context, id int, role string) error {
	if _, err := s.store.GetAccountById(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s %d", ErrNotFound, role, id)
		}
		return fmt.Errorf("get %s: %w", role, err)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, userIds ...int) {
	if err := s.cache.Invalidate(ctx, userIds...); err != nil {
		s.log.Warn("conversation cache invalidation failed", zap.Ints("user_ids", userIds), zap.Error(err))
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", ErrValidation, field, fe.Param())
	default:
		return fmt.Errorf("%w: %s is invalid", ErrValidation, field)
	}
}

type nopCache struct{}

func (nopCache) Get(context.Context, int) ([]types.Conversation, bool, error) { return nil, false, nil }
func (nopCache) Version(context.Context, int) (int64, error)                  { return 0, nil }
func (nopCache) Set(context.Context, int, int64, []types.Conversation) error  { return nil }
func (nopCache) Invalidate(context.Context, ...int) error                     { return nil }

// ValidateContent trims content and checks it is non-empty and within
// MaxContentLength characters.
func ValidateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: content is required", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", fmt.Errorf("%w: content must be at most %d characters", ErrValidation, MaxContentLength)
	}
	return content, nil
}
