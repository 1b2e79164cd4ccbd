// Package session provides storage backends for refresh tokens and revoked
// access tokens.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a refresh token is unknown, revoked or expired.
var ErrNotFound = errors.New("session not found")

// Store is implemented by RedisStore and by *store.PostgresStore.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}
