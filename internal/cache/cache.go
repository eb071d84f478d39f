package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get/GetJSON when the key has no value
var ErrNotFound = errors.New("cache: key not found")

// Cache provides a simple key-value cache for tool results
type Cache interface {
	// Get retrieves a value by key, returns ErrNotFound if not found
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL; a zero TTL means no expiry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetJSON retrieves and unmarshals JSON data
	GetJSON(ctx context.Context, key string, dest interface{}) error

	// SetJSON marshals and stores JSON data
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// Has checks if a key exists
	Has(ctx context.Context, key string) bool
}

// Standard TTL durations for the different classes of tool data
var (
	// Token prices go stale quickly
	PriceTTL = 1 * time.Minute

	// 24h market statistics refresh on the same cadence the exchanges publish
	StatsTTL = 1 * time.Minute

	// News results can be reused for a short window
	NewsTTL = 5 * time.Minute

	// The chain registry changes rarely
	ChainTTL = 24 * time.Hour
)

// Cache key patterns for consistent naming across tools
const (
	PriceKeyPattern = "token-price:%s:%s" // token-price:usd:bitcoin
	StatsKeyPattern = "market-stats:%s"   // market-stats:BTCUSDT
	NewsKeyPattern  = "news:%s"           // news:bitcoin etf
)
