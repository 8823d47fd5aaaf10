package database

import (
	"context"
	"time"
)

const pingTimeout = 2 * time.Second

func (db *PgRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, email, profile_picture, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.ProfilePicture,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, profile_picture, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.ProfilePicture,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password_hash, profile_picture, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.ProfilePicture,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgRepository) CreateListing(ctx context.Context, params CreateListingParams) (Listing, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO listings (seller_id, title, price, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, seller_id, title, price, created_at",
		params.SellerId,
		params.Title,
		params.Price,
		time.Now().UTC(),
	)

	var l Listing
	err := row.Scan(&l.Id, &l.SellerId, &l.Title, &l.Price, &l.CreatedAt)
	return l, err
}

func (db *PgRepository) GetListing(ctx context.Context, id int) (Listing, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, seller_id, title, price, created_at FROM listings WHERE id = $1 LIMIT 1",
		id,
	)

	var l Listing
	err := row.Scan(&l.Id, &l.SellerId, &l.Title, &l.Price, &l.CreatedAt)
	return l, err
}
