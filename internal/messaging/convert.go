package messaging

import (
	"github.com/npezzotti/campus-chat/internal/database"
	"github.com/npezzotti/campus-chat/internal/types"
)

func ToUser(u database.User) types.User {
	return types.User{
		Id:             u.Id,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

func ToListing(l *database.Listing) *types.Listing {
	if l == nil {
		return nil
	}
	return &types.Listing{Id: l.Id, Title: l.Title, Price: l.Price}
}

func ToMessage(m database.Message) types.Message {
	return types.Message{
		Id:             m.Id,
		Sender:         ToUser(m.Sender),
		Recipient:      ToUser(m.Recipient),
		Content:        m.Content,
		RelatedListing: ToListing(m.Listing),
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
}

func toMessages(ms []database.Message) []types.Message {
	out := make([]types.Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, ToMessage(m))
	}
	return out
}

func toConversations(cs []database.Conversation) []types.Conversation {
	out := make([]types.Conversation, 0, len(cs))
	for _, c := range cs {
		out = append(out, types.Conversation{
			Counterpart: ToUser(c.Counterpart),
			LastMessage: ToMessage(c.LastMessage),
			UnreadCount: c.UnreadCount,
		})
	}
	return out
}
