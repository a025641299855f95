package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { rs.Close() })
	return rs
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()

	err := rs.SaveRefreshSession(ctx, "hash-1", "usr-123", time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	profile, err := rs.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession: %v", err)
	}
	if profile.ID != "usr-123" {
		t.Errorf("profile.ID = %q, want usr-123", profile.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer rs.Close()

	ctx := context.Background()
	if err := rs.SaveRefreshSession(ctx, "hash-exp", "usr-1", time.Now().Add(time.Millisecond)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	mr.FastForward(2 * time.Millisecond)

	if _, err := rs.LookupRefreshSession(ctx, "hash-exp"); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	rs := setupTestRedis(t)

	if _, err := rs.LookupRefreshSession(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown token")
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "hash-rev", "usr-2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}
	if err := rs.RevokeRefreshSession(ctx, "hash-rev"); err != nil {
		t.Fatalf("RevokeRefreshSession: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "hash-rev"); err == nil {
		t.Error("expected error after revoke")
	}

	// Revoking a token that never existed is not an error.
	if err := rs.RevokeRefreshSession(ctx, "never-existed"); err != nil {
		t.Errorf("RevokeRefreshSession unknown: %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	rs := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	if err := rs.SaveRefreshSession(ctx, "hash-a", "usr-a", expiresAt); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := rs.SaveRefreshSession(ctx, "hash-b", "usr-b", expiresAt); err != nil {
		t.Fatalf("save b: %v", err)
	}

	if err := rs.RevokeRefreshSession(ctx, "hash-a"); err != nil {
		t.Fatalf("revoke a: %v", err)
	}

	if _, err := rs.LookupRefreshSession(ctx, "hash-a"); err == nil {
		t.Error("hash-a should be gone")
	}
	profile, err := rs.LookupRefreshSession(ctx, "hash-b")
	if err != nil {
		t.Fatalf("lookup b: %v", err)
	}
	if profile.ID != "usr-b" {
		t.Errorf("profile.ID = %q, want usr-b", profile.ID)
	}
}
