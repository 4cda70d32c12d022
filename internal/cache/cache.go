package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mlserve/internal/logging"
)

const defaultOpTimeout = 250 * time.Millisecond

// Cache wraps a Backend with per-operation timeouts and soft-fail semantics.
// A nil *Cache behaves like a cache that always misses.
type Cache struct {
	backend   Backend
	opTimeout time.Duration
	log       zerolog.Logger
}

// Options configures New.
type Options struct {
	OpTimeout time.Duration
	Logger    *zerolog.Logger
}

// New returns a Cache over b. A nil backend disables caching.
func New(b Backend, opts Options) *Cache {
	if b == nil {
		b = NopBackend{}
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	return &Cache{backend: b, opTimeout: opts.OpTimeout, log: logging.OrNop(opts.Logger)}
}

// Get returns the stored value for key. Backend errors are logged and
// reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	val, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache get failed; continuing without cache")
		return nil, false
	}
	return val, found
}

// Set stores val under key for ttl. Backend errors are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.backend.Set(ctx, key, val, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed; result not cached")
	}
}
