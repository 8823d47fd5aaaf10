// Package notify persists notifications and pushes them to connected users.
// Requests are queued and handled by a single worker so that callers never
// wait on storage.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/npezzotti/campus-chat/internal/database"
	"github.com/npezzotti/campus-chat/internal/stats"
	"github.com/npezzotti/campus-chat/internal/types"
	"go.uber.org/zap"
)

const storeTimeout = 5 * time.Second

const (
	metricNotificationsSent    = "NotificationsSent"
	metricNotificationsDropped = "NotificationsDropped"
	metricNotificationsFailed  = "NotificationsFailed"
)

type Store interface {
	CreateNotification(ctx context.Context, params database.CreateNotificationParams) (database.Notification, error)
}

// Pusher delivers a notification to every live connection of a user.
type Pusher interface {
	NotifyUser(userId int, n types.Notification)
}

type request struct {
	recipientId int
	kind        types.NotificationKind
	payload     types.NotificationPayload
}

type Emitter struct {
	log    *zap.Logger
	store  Store
	pusher Pusher
	stats  stats.StatsProvider
	queue  chan request
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewEmitter(logger *zap.Logger, store Store, pusher Pusher, su stats.StatsProvider, queueSize int) *Emitter {
	su.RegisterMetric(metricNotificationsSent)
	su.RegisterMetric(metricNotificationsDropped)
	su.RegisterMetric(metricNotificationsFailed)

	return &Emitter{
		log:    logger.Named("notify"),
		store:  store,
		pusher: pusher,
		stats:  su,
		queue:  make(chan request, queueSize),
		done:   make(chan struct{}),
	}
}

// Notify queues a notification. It never blocks: if the queue is full or the
// emitter has stopped the request is dropped and logged.
func (e *Emitter) Notify(recipientId int, kind types.NotificationKind, payload types.NotificationPayload) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.log.Warn("notification dropped, emitter stopped", zap.Int("recipient_id", recipientId))
		return
	}

	select {
	case e.queue <- request{recipientId: recipientId, kind: kind, payload: payload}:
	default:
		e.stats.Incr(metricNotificationsDropped)
		e.log.Warn("notification queue full, dropping notification",
			zap.Int("recipient_id", recipientId),
			zap.String("kind", string(kind)),
		)
	}
}

// Run processes queued notifications until Stop is called.
func (e *Emitter) Run() {
	defer close(e.done)
	for req := range e.queue {
		e.handle(req)
	}
}

func (e *Emitter) handle(req request) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var senderId *int
	if req.payload.SenderId > 0 {
		senderId = &req.payload.SenderId
	}

	n, err := e.store.CreateNotification(ctx, database.CreateNotificationParams{
		RecipientId: req.recipientId,
		SenderId:    senderId,
		Kind:        string(req.kind),
		Content:     req.payload.Content,
		ListingId:   req.payload.ListingId,
	})
	if err != nil {
		e.stats.Incr(metricNotificationsFailed)
		e.log.Error("failed to persist notification",
			zap.Int("recipient_id", req.recipientId),
			zap.String("kind", string(req.kind)),
			zap.Error(err),
		)
		return
	}

	e.stats.Incr(metricNotificationsSent)
	if e.pusher != nil {
		e.pusher.NotifyUser(req.recipientId, ToNotification(n))
	}
}

// Stop refuses new requests, drains the queue and waits for the worker to
// finish or ctx to expire.
func (e *Emitter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ToNotification(n database.Notification) types.Notification {
	out := types.Notification{
		Id:          n.Id,
		RecipientId: n.RecipientId,
		Kind:        types.NotificationKind(n.Kind),
		Content:     n.Content,
		Read:        n.Read,
		CreatedAt:   n.CreatedAt,
	}
	if n.Sender != nil {
		out.Sender = &types.User{
			Id:             n.Sender.Id,
			Username:       n.Sender.Username,
			ProfilePicture: n.Sender.ProfilePicture,
		}
	}
	if n.Listing != nil {
		out.RelatedListing = &types.Listing{
			Id:    n.Listing.Id,
			Title: n.Listing.Title,
			Price: n.Listing.Price,
		}
	}
	return out
}
