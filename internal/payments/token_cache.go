package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultTokenMargin = time.Minute

// Token is an OAuth access token and the instant it stops being valid.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenFetcher obtains a fresh token from the authorisation server.
type TokenFetcher func(ctx context.Context) (Token, error)

// TokenCache holds one access token shared by every caller. Concurrent refreshes collapse into a
// single fetch, and a token is treated as expired margin before its real expiry.
type TokenCache struct {
	margin time.Duration
	clock  func() time.Time

	mu    sync.RWMutex
	token Token
	group singleflight.Group
}

// TokenCacheOption customises a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithTokenMargin overrides how long before expiry a token is refreshed.
func WithTokenMargin(margin time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if margin >= 0 {
			c.margin = margin
		}
	}
}

// WithTokenClock overrides the time source, mainly for tests.
func WithTokenClock(clock func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewTokenCache constructs an empty cache.
func NewTokenCache(opts ...TokenCacheOption) *TokenCache {
	cache := &TokenCache{margin: defaultTokenMargin, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// Get returns the cached token, calling fetch when it is missing or about to expire.
func (c *TokenCache) Get(ctx context.Context, fetch TokenFetcher) (string, error) {
	if c == nil {
		return "", errors.New("payments: token cache is nil")
	}
	if fetch == nil {
		return "", errors.New("payments: token fetcher is required")
	}
	if value, ok := c.current(); ok {
		return value, nil
	}

	// The shared fetch must outlive any single waiter's cancellation.
	ch := c.group.DoChan("token", func() (any, error) {
		if value, ok := c.current(); ok {
			return value, nil
		}
		token, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(token.Value) == "" {
			return "", errors.New("payments: token endpoint returned an empty token")
		}
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
		return token.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token so the next Get fetches a new one.
func (c *TokenCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
}

func (c *TokenCache) current() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.Value == "" {
		return "", false
	}
	if !c.clock().Add(c.margin).Before(c.token.ExpiresAt) {
		return "", false
	}
	return c.token.Value, true
}
