// Package token caches the bearer credential of the one backend that issues
// expiring tokens.
package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/onurcolak/unified-inbox/internal/apperrors"
	"github.com/onurcolak/unified-inbox/internal/metrics"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

// DefaultSafetyMargin is subtracted from the server-reported lifetime.
const DefaultSafetyMargin = 5 * time.Minute

// Grant is what the identity backend hands back for our client identity.
type Grant struct {
	AccessToken string
	ExpiresIn   time.Duration
}

type Exchanger interface {
	Exchange(ctx context.Context) (Grant, error)
}

type entry struct {
	token     string
	expiresAt time.Time
}

// Cache is a single mutable token slot. The mutex is held across the exchange so
// concurrent callers racing on expiry share one network round trip.
type Cache struct {
	exchanger Exchanger
	margin    time.Duration
	now       func() time.Time

	mu    sync.Mutex
	entry *entry
}

func NewCache(exchanger Exchanger, margin time.Duration) *Cache {
	if margin < 0 {
		margin = DefaultSafetyMargin
	}

	return &Cache{
		exchanger: exchanger,
		margin:    margin,
		now:       time.Now,
	}
}

// Token returns the cached token while it is valid, otherwise exchanges for a new one.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.entry != nil && now.Before(c.entry.expiresAt) {
		return c.entry.token, nil
	}

	// An expired entry must never be handed out, even if the exchange fails.
	c.entry = nil

	grant, err := c.exchanger.Exchange(ctx)
	if err == nil && grant.AccessToken == "" {
		err = errors.New("empty access token in response")
	}
	metrics.ObserveTokenExchange(err)
	if err != nil {
		return "", &apperrors.CredentialError{Err: err}
	}

	c.entry = &entry{
		token:     grant.AccessToken,
		expiresAt: now.Add(grant.ExpiresIn - c.margin),
	}

	logger.Debugf("Access token refreshed, valid until %s", c.entry.expiresAt.Format(time.RFC3339))

	return grant.AccessToken, nil
}

// Invalidate drops the cached token, e.g. after the backend answered 401.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}

// ExpiresAt reports when the cached token expires; zero if none is cached.
func (c *Cache) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return time.Time{}
	}
	return c.entry.expiresAt
}
