// Package redis provides the durable guest-cart store on Redis, keyed by
// storefront session id.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
)

var _ cart.Store = (*CartStore)(nil)

const cartKeyPrefix = "cart:guest:"

// NewClient creates a Redis client for the given address.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// CartStore persists guest cart lines as a version-tagged JSON document.
type CartStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCartStore creates a CartStore. Entries expire after ttl; zero disables
// expiry.
func NewCartStore(rdb *redis.Client, ttl time.Duration) *CartStore {
	return &CartStore{rdb: rdb, ttl: ttl}
}

// Load rehydrates the guest cart for sessionID. A missing key is an empty
// cart, not an error.
func (s *CartStore) Load(ctx context.Context, sessionID string) ([]cart.Line, error) {
	raw, err := s.rdb.Get(ctx, cartKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load guest cart")
	}

	lines, err := decodeLines(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decode guest cart")
	}
	return lines, nil
}

// Save writes the full line set for sessionID.
func (s *CartStore) Save(ctx context.Context, sessionID string, lines []cart.Line) error {
	raw, err := encodeLines(lines)
	if err != nil {
		return errors.Wrap(err, "encode guest cart")
	}
	if err := s.rdb.Set(ctx, cartKeyPrefix+sessionID, raw, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "save guest cart")
	}
	return nil
}

// Delete drops the guest cart for sessionID.
func (s *CartStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, cartKeyPrefix+sessionID).Err(); err != nil {
		return errors.Wrap(err, "delete guest cart")
	}
	return nil
}
