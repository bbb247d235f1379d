package cache

import (
	"context"
	"testing"
	"time"
)

func TestDisabledCacheIsNoOp(t *testing.T) {
	c, err := NewCache(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if c.IsEnabled() {
		t.Error("expected a disabled config to produce a disabled cache")
	}

	ctx := context.Background()
	if _, err := c.Increment(ctx, "k"); err == nil {
		t.Error("expected Increment on a disabled cache to error")
	}
	if err := c.Expire(ctx, "k", time.Second); err != nil {
		t.Errorf("expected Expire on a disabled cache to be a silent no-op, got %v", err)
	}
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Error("expected Get on a disabled cache to error")
	}
	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Errorf("expected Set on a disabled cache to be a silent no-op, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on a disabled cache should be a no-op, got %v", err)
	}
}

func TestNewCacheRejectsUnreachableRedis(t *testing.T) {
	_, err := NewCache(Config{Enabled: true, Host: "127.0.0.1", Port: "1"})
	if err == nil {
		t.Error("expected connecting to an unreachable redis port to fail")
	}
}
