// Package auth implements the authentication capability set (spec.md §9:
// "model each authenticator as a concrete implementation of the capability
// set {match_challenge, set_validator_params, get_user_from_response,
// www_authenticate}") and the ordered middleware chain that tries each
// configured handler in turn.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrUnauthenticated is returned by a Handler when the presented
// credentials are missing, malformed, or rejected by the validator.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Handler is one configured authentication method.
type Handler interface {
	// Name identifies the handler for logging (e.g. "basic_auth").
	Name() string
	// Challenge returns this handler's WWW-Authenticate scheme, e.g.
	// `Basic realm="irobot"`.
	Challenge() string
	// MatchChallenge reports whether authHeader looks like this handler's
	// scheme, so the chain can skip handlers that plainly don't apply.
	MatchChallenge(authHeader string) bool
	// Authenticate validates authHeader against the configured validator
	// and returns the authenticated username, or ErrUnauthenticated.
	Authenticate(ctx context.Context, authHeader string) (string, error)
}

// Chain presents the Authorization header to each handler in declared
// order; the first to authenticate wins.
type Chain struct {
	handlers []Handler
}

// NewChain builds a Chain from handlers in priority order.
func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: handlers}
}

// Authenticate runs the chain against r's Authorization header.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) (user string, handlerName string, err error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "", ErrUnauthenticated
	}
	for _, h := range c.handlers {
		if !h.MatchChallenge(header) {
			continue
		}
		user, err := h.Authenticate(ctx, header)
		if err == nil {
			return user, h.Name(), nil
		}
	}
	return "", "", ErrUnauthenticated
}

// WWWAuthenticate returns the comma-joined challenge of every configured
// handler, for the WWW-Authenticate response header.
func (c *Chain) WWWAuthenticate() string {
	parts := make([]string, len(c.handlers))
	for i, h := range c.handlers {
		parts[i] = h.Challenge()
	}
	return strings.Join(parts, ", ")
}

// responseCache caches successful (credential -> user) lookups for
// cache_duration, so that repeated requests with the same credential don't
// re-hit the remote validator on every call. A zero ttl disables caching.
type responseCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	user    string
	expires time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// get returns the cached user for key, if present and not yet expired. An
// entry expires exactly at authenticated+cache_duration (spec.md §8): it is
// still valid while now is strictly before expires.
func (c *responseCache) get(key string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !time.Now().Before(e.expires) {
		return "", false
	}
	return e.user, true
}

func (c *responseCache) put(key, user string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{user: user, expires: time.Now().Add(c.ttl)}
}
