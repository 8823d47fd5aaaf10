package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const messageColumns = "m.id, m.seq, m.content, m.read, m.created_at, " +
	"s.id, s.username, s.profile_picture, " +
	"r.id, r.username, r.profile_picture, " +
	"l.id, l.title, l.price"

const messageJoins = " JOIN accounts s ON s.id = m.sender_id" +
	" JOIN accounts r ON r.id = m.recipient_id" +
	" LEFT JOIN listings l ON l.id = m.listing_id"

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage scans a row selected with messageColumns followed by any extra
// destinations.
func scanMessage(row rowScanner, extra ...any) (Message, error) {
	var (
		m            Message
		listingId    sql.NullInt64
		listingTitle sql.NullString
		listingPrice decimal.NullDecimal
	)

	dest := []any{
		&m.Id, &m.Seq, &m.Content, &m.Read, &m.CreatedAt,
		&m.Sender.Id, &m.Sender.Username, &m.Sender.ProfilePicture,
		&m.Recipient.Id, &m.Recipient.Username, &m.Recipient.ProfilePicture,
		&listingId, &listingTitle, &listingPrice,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Message{}, err
	}

	if listingId.Valid {
		m.Listing = &Listing{
			Id:    int(listingId.Int64),
			Title: listingTitle.String,
			Price: listingPrice.Decimal,
		}
	}

	return m, nil
}

func (db *PgRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH m AS ("+
			"INSERT INTO messages (id, sender_id, recipient_id, content, listing_id) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING *"+
			") SELECT "+messageColumns+" FROM m"+messageJoins,
		uuid.NewString(),
		params.SenderId,
		params.RecipientId,
		params.Content,
		nullInt(params.ListingId),
	)

	return scanMessage(row)
}

func (db *PgRepository) GetMessage(ctx context.Context, id string) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m"+messageJoins+" WHERE m.id = $1",
		id,
	)

	return scanMessage(row)
}

func (db *PgRepository) ListMessagesBetween(ctx context.Context, userA, userB int) ([]Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages m"+messageJoins+
			" WHERE (m.sender_id = $1 AND m.recipient_id = $2) OR (m.sender_id = $2 AND m.recipient_id = $1)"+
			" ORDER BY m.created_at ASC, m.seq ASC",
		userA,
		userB,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgRepository) MarkConversationRead(ctx context.Context, readerId, counterpartId int) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET read = true WHERE recipient_id = $1 AND sender_id = $2 AND NOT read",
		readerId,
		counterpartId,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgRepository) DeleteMessage(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}

	return requireRow(res)
}

// ListConversations computes one summary per counterpart in a single pass:
// the latest message of each pair and the count of unread messages addressed
// to userId. Self-addressed messages are not conversations.
func (db *PgRepository) ListConversations(ctx context.Context, userId int) ([]Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"WITH latest AS ("+
			"SELECT DISTINCT ON (x.counterpart_id) x.* FROM ("+
			"SELECT mm.*, CASE WHEN mm.sender_id = $1 THEN mm.recipient_id ELSE mm.sender_id END AS counterpart_id "+
			"FROM messages mm WHERE (mm.sender_id = $1 OR mm.recipient_id = $1) AND mm.sender_id <> mm.recipient_id"+
			") x ORDER BY x.counterpart_id, x.created_at DESC, x.seq DESC"+
			") SELECT "+messageColumns+", "+
			"(SELECT COUNT(*) FROM messages u WHERE u.sender_id = m.counterpart_id AND u.recipient_id = $1 AND NOT u.read) "+
			"FROM latest m"+messageJoins+
			" ORDER BY m.created_at DESC, m.seq DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var unread int
		m, err := scanMessage(rows, &unread)
		if err != nil {
			return nil, err
		}

		conversations = append(conversations, Conversation{
			Counterpart: m.Counterpart(userId),
			LastMessage: m,
			UnreadCount: unread,
		})
	}

	return conversations, rows.Err()
}
