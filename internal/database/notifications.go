package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

const notificationColumns = "n.id, n.recipient_id, n.kind, n.content, n.read, n.created_at, " +
	"s.id, s.username, s.profile_picture, " +
	"l.id, l.title, l.price"

const notificationJoins = " LEFT JOIN accounts s ON s.id = n.sender_id" +
	" LEFT JOIN listings l ON l.id = n.listing_id"

func scanNotification(row rowScanner) (Notification, error) {
	var (
		n             Notification
		senderId      sql.NullInt64
		senderName    sql.NullString
		senderPicture sql.NullString
		listingId     sql.NullInt64
		listingTitle  sql.NullString
		listingPrice  decimal.NullDecimal
	)

	err := row.Scan(
		&n.Id, &n.RecipientId, &n.Kind, &n.Content, &n.Read, &n.CreatedAt,
		&senderId, &senderName, &senderPicture,
		&listingId, &listingTitle, &listingPrice,
	)
	if err != nil {
		return Notification{}, err
	}

	if senderId.Valid {
		n.Sender = &User{
			Id:             int(senderId.Int64),
			Username:       senderName.String,
			ProfilePicture: senderPicture.String,
		}
	}
	if listingId.Valid {
		n.Listing = &Listing{
			Id:    int(listingId.Int64),
			Title: listingTitle.String,
			Price: listingPrice.Decimal,
		}
	}

	return n, nil
}

func (db *PgRepository) CreateNotification(ctx context.Context, params CreateNotificationParams) (Notification, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH n AS ("+
			"INSERT INTO notifications (recipient_id, sender_id, kind, content, listing_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING *"+
			") SELECT "+notificationColumns+" FROM n"+notificationJoins,
		params.RecipientId,
		nullInt(params.SenderId),
		params.Kind,
		params.Content,
		nullInt(params.ListingId),
		time.Now().UTC(),
	)

	return scanNotification(row)
}

func (db *PgRepository) GetNotification(ctx context.Context, id int) (Notification, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications n"+notificationJoins+" WHERE n.id = $1",
		id,
	)

	return scanNotification(row)
}

func (db *PgRepository) ListNotifications(ctx context.Context, recipientId, limit, offset int) ([]Notification, int, error) {
	var total int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = $1",
		recipientId,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications n"+notificationJoins+
			" WHERE n.recipient_id = $1 ORDER BY n.created_at DESC, n.id DESC LIMIT $2 OFFSET $3",
		recipientId,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		notifications = append(notifications, n)
	}

	return notifications, total, rows.Err()
}

func (db *PgRepository) MarkNotificationRead(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, "UPDATE notifications SET read = true WHERE id = $1", id)
	if err != nil {
		return err
	}

	return requireRow(res)
}

func (db *PgRepository) MarkAllNotificationsRead(ctx context.Context, recipientId int) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE notifications SET read = true WHERE recipient_id = $1 AND NOT read",
		recipientId,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgRepository) DeleteNotification(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM notifications WHERE id = $1", id)
	if err != nil {
		return err
	}

	return requireRow(res)
}

func (db *PgRepository) DeleteAllNotifications(ctx context.Context, recipientId int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM notifications WHERE recipient_id = $1", recipientId)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (db *PgRepository) PruneNotifications(ctx context.Context, readBefore time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM notifications WHERE read AND created_at < $1",
		readBefore,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
