// Package pg is the Postgres persistence layer. It backs the request
// lifecycle, accounts, users and the audit trail over database/sql with
// the pgx stdlib driver.
package pg

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"xplora.org/internal/auth"
	"xplora.org/internal/gateway"
	"xplora.org/internal/request"
)

type Store struct {
	db *sql.DB
}

var (
	_ request.Store        = (*Store)(nil)
	_ gateway.AccountStore = (*Store)(nil)
	_ auth.UserStore       = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle, used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }
