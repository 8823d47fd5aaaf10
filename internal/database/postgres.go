package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

type PgRepository struct {
	conn *sql.DB
}

func NewPgRepository(dsn string) (*PgRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &PgRepository{conn: db}, nil
}

// NewPgRepositoryFromDB wraps an existing connection pool.
func NewPgRepositoryFromDB(db *sql.DB) *PgRepository {
	return &PgRepository{conn: db}
}

func (db *PgRepository) DB() *sql.DB {
	return db.conn
}

func (db *PgRepository) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return db.conn.PingContext(ctx)
}

func (db *PgRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
