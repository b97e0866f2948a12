package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type snapshot struct {
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", snapshot{Value: 613000, Label: "613.000"}, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got snapshot
	if err := c.Get(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Value != 613000 || got.Label != "613.000" {
		t.Fatalf("unexpected %+v", got)
	}

	var s string
	_ = c.Set(ctx, "s", "plain", 0)
	if err := c.Get(ctx, "s", &s); err != nil || s != "plain" {
		t.Fatalf("unexpected string %q err=%v", s, err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "k", "v", time.Second)
	if ok, _ := c.Exists(ctx, "k"); !ok {
		t.Fatalf("expected key present")
	}
	now = now.Add(2 * time.Second)
	var s string
	if err := c.Get(ctx, "k", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(WithMemoryMaxSize(2))
	defer c.Close()
	now := time.Unix(1700000000, 0)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "a", "1", 0)
	now = now.Add(time.Second)
	_ = c.Set(ctx, "b", "2", 0)
	now = now.Add(time.Second)
	var s string
	_ = c.Get(ctx, "a", &s)
	now = now.Add(time.Second)
	_ = c.Set(ctx, "c", "3", 0)

	if ok, _ := c.Exists(ctx, "b"); ok {
		t.Fatalf("expected b evicted")
	}
	if ok, _ := c.Exists(ctx, "a", "c"); !ok {
		t.Fatalf("expected a and c kept")
	}
	_ = c.Delete(ctx, "a", "c")
	if ok, _ := c.Exists(ctx, "a", "c"); ok {
		t.Fatalf("expected keys deleted")
	}
}
