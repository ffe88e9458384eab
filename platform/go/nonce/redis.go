package nonce

import (
	"context"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

const keyPrefix = "wimslti:nonce:"

// Redis shares nonces between API replicas.
type Redis struct {
	c *rdb.Client
}

// NewRedis accepts either host:port or a redis:// URL.
func NewRedis(addr string) (*Redis, error) {
	if strings.Contains(addr, "://") {
		opts, err := rdb.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return &Redis{c: rdb.NewClient(opts)}, nil
	}
	return &Redis{c: rdb.NewClient(&rdb.Options{Addr: addr})}, nil
}

// Remember uses SET NX so only the first caller for key sees fresh=true.
func (r *Redis) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.c.SetNX(ctx, keyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Ping is used by the readiness probe.
func (r *Redis) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.c.Close() }
