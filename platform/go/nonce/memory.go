// Package nonce stores OAuth nonces for the replay window of launch verification.
package nonce

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory keeps nonces in process. Suitable for a single API replica.
type Memory struct {
	c *gocache.Cache
}

// NewMemory builds a Memory store that sweeps expired entries every cleanup interval.
func NewMemory(cleanup time.Duration) *Memory {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Memory{c: gocache.New(gocache.NoExpiration, cleanup)}
}

// Remember stores key for ttl; go-cache's Add fails when an unexpired entry exists.
func (m *Memory) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := m.c.Add(key, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// Len reports how many nonces are currently tracked, expired ones included until swept.
func (m *Memory) Len() int { return m.c.ItemCount() }
