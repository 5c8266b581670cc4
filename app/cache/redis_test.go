package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lysyi3m/api-comb/app/fetcher"
)

var _ fetcher.ResponseStore = (*Cache)(nil)

func TestNewCacheUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Nothing listens on port 1.
	c, err := NewCache(ctx, "127.0.0.1:1")
	if err == nil {
		c.Close()
		t.Fatal("Expected error connecting to an unreachable Redis")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := NewCache(ctx, addr)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	defer c.Close()

	key := "test:" + t.Name()
	defer c.client.Del(context.Background(), keyPrefix+key)

	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("Expected miss for fresh key, got ok=%v err=%v", ok, err)
	}

	want := []byte(`{"items":[1,2,3]}`)
	if err := c.Set(ctx, key, want, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != string(want) {
		t.Errorf("Expected %s, got %s", want, got)
	}

	ttl, err := c.client.TTL(ctx, keyPrefix+key).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected TTL within a minute, got %v", ttl)
	}

	health := c.Health(ctx)
	if health["status"] != "healthy" || health["type"] != "redis" {
		t.Errorf("Unexpected health %v", health)
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Errorf("Expected miss after delete, got ok=%v err=%v", ok, err)
	}
}
