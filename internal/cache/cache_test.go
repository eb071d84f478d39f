package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T, prefix string) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheFromClient(client, prefix), mr
}

// exercised against both backends through the shared interface
func runCacheContract(t *testing.T, c Cache) {
	ctx := context.Background()

	t.Run("miss returns ErrNotFound", func(t *testing.T) {
		_, err := c.Get(ctx, "never-set")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		if err := c.Set(ctx, "greeting", []byte("hello"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := c.Get(ctx, "greeting")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "hello" {
			t.Errorf("got %q, want hello", got)
		}
		if !c.Has(ctx, "greeting") {
			t.Error("Has should report the key")
		}
	})

	t.Run("json round trip", func(t *testing.T) {
		type price struct {
			Coin  string  `json:"coin"`
			Value float64 `json:"value"`
		}
		in := price{Coin: "bitcoin", Value: 97123.45}
		if err := c.SetJSON(ctx, "price:bitcoin", in, PriceTTL); err != nil {
			t.Fatalf("SetJSON failed: %v", err)
		}
		var out price
		if err := c.GetJSON(ctx, "price:bitcoin", &out); err != nil {
			t.Fatalf("GetJSON failed: %v", err)
		}
		if out != in {
			t.Errorf("got %+v, want %+v", out, in)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := c.Set(ctx, "doomed", []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := c.Delete(ctx, "doomed"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := c.Get(ctx, "doomed"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if c.Has(ctx, "doomed") {
			t.Error("Has should not report a deleted key")
		}
	})
}

func TestRedisCacheContract(t *testing.T) {
	c, _ := newTestRedisCache(t, "coinscout")
	runCacheContract(t, c)
}

func TestMemoryCacheContract(t *testing.T) {
	c, err := NewMemoryCache(0)
	if err != nil {
		t.Fatalf("NewMemoryCache failed: %v", err)
	}
	defer c.Close()
	runCacheContract(t, c)
}

func TestRedisCacheKeyPrefix(t *testing.T) {
	c, mr := newTestRedisCache(t, "coinscout")
	ctx := context.Background()

	if err := c.Set(ctx, "token-price:usd:bitcoin", []byte("data"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mr.Exists("coinscout:token-price:usd:bitcoin") {
		t.Errorf("expected prefixed key in Redis, have %v", mr.Keys())
	}
}

func TestRedisCacheTTL(t *testing.T) {
	c, mr := newTestRedisCache(t, "")
	ctx := context.Background()

	if err := c.Set(ctx, "ephemeral", []byte("x"), PriceTTL); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mr.FastForward(PriceTTL + time.Second)

	if _, err := c.Get(ctx, "ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expiry after TTL, got %v", err)
	}
}

func TestMemoryCacheTTL(t *testing.T) {
	c, err := NewMemoryCache(0)
	if err != nil {
		t.Fatalf("NewMemoryCache failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "ephemeral", []byte("x"), 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := c.Get(ctx, "ephemeral"); err != nil {
		t.Fatalf("value should be readable before expiry: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := c.Get(ctx, "ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expiry after TTL, got %v", err)
	}
}
