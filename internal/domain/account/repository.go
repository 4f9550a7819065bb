package account

import (
	"context"
	"strings"
)

// Repository abstracts account persistence. Usernames match
// case-insensitively; Put inserts or replaces.
type Repository interface {
	Get(ctx context.Context, username string) (User, bool, error)
	Put(ctx context.Context, user User) error
}

// Key is the canonical lookup form of a username.
func Key(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
