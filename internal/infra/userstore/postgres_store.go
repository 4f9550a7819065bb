package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/ecoloop/internal/domain/account"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS accounts (
		username_key  TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		reuse_points  INTEGER NOT NULL DEFAULT 0,
		repair_points INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// PostgresStore persists accounts in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the accounts table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Get fetches an account by case-insensitive username.
func (s *PostgresStore) Get(ctx context.Context, username string) (account.User, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT username, password_hash, reuse_points, repair_points, created_at
		FROM accounts
		WHERE username_key = $1
	`, account.Key(username))
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.User{}, false, nil
	}
	if err != nil {
		return account.User{}, false, err
	}
	return user, true, nil
}

// Put inserts or replaces an account row.
func (s *PostgresStore) Put(ctx context.Context, user account.User) error {
	created := user.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (username_key, username, password_hash, reuse_points, repair_points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username_key) DO UPDATE SET
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			reuse_points = EXCLUDED.reuse_points,
			repair_points = EXCLUDED.repair_points
	`, account.Key(user.Username), user.Username, user.PasswordHash, user.ReusePoints, user.RepairPoints, created)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (account.User, error) {
	var user account.User
	var created time.Time
	if err := row.Scan(&user.Username, &user.PasswordHash, &user.ReusePoints, &user.RepairPoints, &created); err != nil {
		return account.User{}, err
	}
	user.CreatedAt = created.UTC()
	return user, nil
}

var _ account.Repository = (*PostgresStore)(nil)
