package refetch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPersister stores the dehydrated cache state in a single Redis key,
// letting cache contents survive process restarts.
type RedisPersister struct {
	client redis.UniversalClient
	opts   *redisOptions
}

// RedisOption configures the Redis persister.
type RedisOption func(*redisOptions)

type redisOptions struct {
	key string
	ttl time.Duration
}

func defaultRedisOptions() *redisOptions {
	return &redisOptions{
		key: "refetch:state",
		ttl: 0, // no expiry
	}
}

// WithRedisKey sets the Redis key holding the state blob.
// Default: "refetch:state".
func WithRedisKey(key string) RedisOption {
	return func(o *redisOptions) {
		if key != "" {
			o.key = key
		}
	}
}

// WithRedisTTL sets an expiry on the saved state, bounding how old a
// hydrated cache can be. Zero means no expiry.
// Default: 0.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(o *redisOptions) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// NewRedisPersister creates a Persister backed by the given Redis client.
//
// Example:
//
//	opt, _ := redis.ParseURL(os.Getenv("REDIS_URL"))
//	p := refetch.NewRedisPersister(redis.NewClient(opt),
//	    refetch.WithRedisKey("myapp:cache"),
//	    refetch.WithRedisTTL(24 * time.Hour),
//	)
func NewRedisPersister(client redis.UniversalClient, opts ...RedisOption) *RedisPersister {
	o := defaultRedisOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &RedisPersister{client: client, opts: o}
}

// Save writes the state blob.
func (p *RedisPersister) Save(ctx context.Context, state []byte) error {
	return p.client.Set(ctx, p.opts.key, state, p.opts.ttl).Err()
}

// Load reads the state blob, returning ErrNotFound when nothing has been
// saved or the saved state has expired.
func (p *RedisPersister) Load(ctx context.Context) ([]byte, error) {
	data, err := p.client.Get(ctx, p.opts.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

var _ Persister = (*RedisPersister)(nil)
