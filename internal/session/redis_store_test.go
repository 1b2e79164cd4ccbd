package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

var _ Store = (*RedisStore)(nil)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "hash-1", "user-123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	userID, err := s.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession() error = %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("userID = %q, want user-123", userID)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "expiring", "user-456", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession() error = %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := s.LookupRefreshSession(ctx, "expiring"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LookupRefreshSession() error = %v, want ErrNotFound", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	for _, tc := range []struct{ hash, user string }{{"token-1", "user-1"}, {"token-2", "user-2"}} {
		if err := s.SaveRefreshSession(ctx, tc.hash, tc.user, expiresAt); err != nil {
			t.Fatalf("SaveRefreshSession(%s) error = %v", tc.hash, err)
		}
	}
	if err := s.RevokeRefreshSession(ctx, "token-1"); err != nil {
		t.Fatalf("RevokeRefreshSession() error = %v", err)
	}
	if err := s.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Fatalf("RevokeRefreshSession() on missing key error = %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoked token lookup error = %v, want ErrNotFound", err)
	}
	userID, err := s.LookupRefreshSession(ctx, "token-2")
	if err != nil || userID != "user-2" {
		t.Fatalf("token-2 lookup = (%q, %v)", userID, err)
	}
}

func TestAccessTokenDenylist(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := s.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh jti revoked = (%v, %v)", revoked, err)
	}
	if err := s.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken() error = %v", err)
	}
	revoked, err = s.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("revoked jti = (%v, %v)", revoked, err)
	}

	mr.FastForward(2 * time.Minute)
	revoked, _ = s.IsAccessTokenRevoked(ctx, "jti-1")
	if revoked {
		t.Fatal("denylist entry should expire with the token")
	}

	if err := s.RevokeAccessToken(ctx, "jti-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken() for expired token error = %v", err)
	}
	if mr.Exists("msphub:revoked:jti-old") {
		t.Fatal("already-expired token should not be stored")
	}
}
