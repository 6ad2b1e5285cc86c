// Package speech caches the short-lived voice-service credential so browsers
// never see the long-lived subscription key.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnconfigured signals that the voice integration is absent. It is a
// feature-flag state, not a failure.
var ErrUnconfigured = errors.New("speech service is not configured")

// FetchError wraps a failed credential fetch from the issuing endpoint.
type FetchError struct {
	cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch speech credential: %v", e.cause)
}

func (e *FetchError) Unwrap() error {
	return e.cause
}

// Credential is a short-lived bearer token for the voice service.
type Credential struct {
	Token     string
	Region    string
	Voice     string
	ExpiresAt time.Time
}

// Issuer fetches a fresh credential token from the external issuing endpoint.
type Issuer interface {
	IssueToken(ctx context.Context) (string, error)
}

const (
	// Issued tokens are valid for ~10 minutes; cache for 8 to avoid edge races.
	credentialTTL = 8 * time.Minute
	// A credential this close to expiry is treated as expired.
	safetyMargin = 5 * time.Second
)

// TokenCache issues a cached credential while it has more than safetyMargin of
// validity left, refreshing lazily otherwise. The whole get-or-refresh runs
// under one lock so concurrent callers share a single fetch.
type TokenCache struct {
	issuer Issuer
	region string
	voice  string
	now    func() time.Time

	mu      sync.Mutex
	current *Credential
}

// NewTokenCache creates a cache for the given region and voice. A nil issuer
// marks the integration as unconfigured.
func NewTokenCache(issuer Issuer, region, voice string) *TokenCache {
	return &TokenCache{
		issuer: issuer,
		region: region,
		voice:  voice,
		now:    time.Now,
	}
}

// WithClock overrides the cache's clock. Test use only.
func (c *TokenCache) WithClock(now func() time.Time) *TokenCache {
	c.now = now
	return c
}

// GetCredential returns the cached credential while it is still valid, or
// fetches and stores a fresh one. A stale credential is never returned.
func (c *TokenCache) GetCredential(ctx context.Context) (Credential, error) {
	if c.issuer == nil || c.region == "" {
		return Credential{}, ErrUnconfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.current != nil && c.current.ExpiresAt.After(now.Add(safetyMargin)) {
		return *c.current, nil
	}

	token, err := c.issuer.IssueToken(ctx)
	if err != nil {
		return Credential{}, &FetchError{cause: err}
	}

	c.current = &Credential{
		Token:     token,
		Region:    c.region,
		Voice:     c.voice,
		ExpiresAt: now.Add(credentialTTL),
	}
	slog.Default().Debug("refreshed speech credential",
		"region", c.region,
		"expires_at", c.current.ExpiresAt,
	)
	return *c.current, nil
}
