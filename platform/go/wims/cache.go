package wims

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedConnector reuses a successful Login for ttl so back-to-back launches against the same
// server skip checkident. Failed logins are never cached.
type CachedConnector struct {
	next  Connector
	cache *gocache.Cache
}

// NewCachedConnector wraps next; a ttl <= 0 returns next unchanged.
func NewCachedConnector(next Connector, ttl time.Duration) Connector {
	if ttl <= 0 {
		return next
	}
	return &CachedConnector{next: next, cache: gocache.New(ttl, 2*ttl)}
}

func (c *CachedConnector) Login(ctx context.Context, srv Server) (Session, error) {
	key := srv.URL + "\x00" + srv.Ident + "\x00" + srv.Passwd + "\x00" + srv.RClass
	if v, ok := c.cache.Get(key); ok {
		return v.(Session), nil
	}
	sess, err := c.next.Login(ctx, srv)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, sess)
	return sess, nil
}
