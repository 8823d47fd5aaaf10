package database

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	Id             int
	Username       string
	EmailAddress   string
	PasswordHash   string
	ProfilePicture string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Listing struct {
	Id        int
	SellerId  int
	Title     string
	Price     decimal.Decimal
	CreatedAt time.Time
}

type Message struct {
	Id        string
	Seq       int64
	Sender    User
	Recipient User
	Content   string
	Listing   *Listing
	Read      bool
	CreatedAt time.Time
}

// Counterpart returns the participant of m that is not userId.
func (m Message) Counterpart(userId int) User {
	if m.Sender.Id == userId {
		return m.Recipient
	}
	return m.Sender
}

type Conversation struct {
	Counterpart User
	LastMessage Message
	UnreadCount int
}

type Notification struct {
	Id          int
	RecipientId int
	Sender      *User
	Kind        string
	Content     string
	Listing     *Listing
	Read        bool
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateListingParams struct {
	SellerId int
	Title    string
	Price    decimal.Decimal
}

type CreateMessageParams struct {
	SenderId    int
	RecipientId int
	Content     string
	ListingId   *int
}

type CreateNotificationParams struct {
	RecipientId int
	SenderId    *int
	Kind        string
	Content     string
	ListingId   *int
}
