package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	Id             int       `json:"id"`
	Username       string    `json:"username"`
	EmailAddress   string    `json:"email_address,omitempty"`
	ProfilePicture string    `json:"profile_picture,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

type Listing struct {
	Id    int             `json:"id"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
}

type Message struct {
	Id             string    `json:"id"`
	Sender         User      `json:"sender"`
	Recipient      User      `json:"recipient"`
	Content        string    `json:"content"`
	RelatedListing *Listing  `json:"related_listing,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	Counterpart User    `json:"counterpart"`
	LastMessage Message `json:"last_message"`
	UnreadCount int     `json:"unread_count"`
}

type NotificationKind string

const (
	NotificationMessage NotificationKind = "message"
	NotificationLike    NotificationKind = "like"
	NotificationComment NotificationKind = "comment"
	NotificationFollow  NotificationKind = "follow"
	NotificationOrder   NotificationKind = "order"
	NotificationListing NotificationKind = "listing"
	NotificationSystem  NotificationKind = "system"
)

type Notification struct {
	Id             int              `json:"id"`
	RecipientId    int              `json:"recipient_id"`
	Sender         *User            `json:"sender,omitempty"`
	Kind           NotificationKind `json:"kind"`
	Content        string           `json:"content"`
	RelatedListing *Listing         `json:"related_listing,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Next  int `json:"next,omitempty"`
	Prev  int `json:"prev,omitempty"`
}

type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Pagination    Pagination     `json:"pagination"`
}

// LiveMessage is a message relayed over the realtime channel. It is never
// persisted and carries no server id.
type LiveMessage struct {
	LocalId   string    `json:"local_id,omitempty"`
	Sender    User      `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageReceive struct {
	ConversationId string      `json:"conversation_id"`
	Message        LiveMessage `json:"message"`
}

type TypingEvent struct {
	ConversationId string `json:"conversation_id"`
	UserId         int    `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type SendMessageRequest struct {
	RecipientId      int    `json:"recipient_id"`
	Content          string `json:"content"`
	RelatedListingId *int   `json:"related_listing_id,omitempty"`
}

// NotificationPayload describes the event a notification is raised for.
type NotificationPayload struct {
	SenderId  int
	ListingId *int
	Content   string
}
