package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BasicHandler implements the `basic_auth` method: Basic credentials are
// presented to an upstream HTTP(S) validator URL, which accepts them with
// 2xx or rejects them with 401/403.
type BasicHandler struct {
	realm        string
	validatorURL string
	client       *http.Client
	cache        *responseCache
}

// NewBasicHandler constructs a BasicHandler. A zero cacheDuration disables
// response caching ("never", per spec.md §6).
func NewBasicHandler(realm, validatorURL string, cacheDuration time.Duration, client *http.Client) *BasicHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &BasicHandler{realm: realm, validatorURL: validatorURL, client: client, cache: newResponseCache(cacheDuration)}
}

func (h *BasicHandler) Name() string { return "basic_auth" }

func (h *BasicHandler) Challenge() string { return fmt.Sprintf(`Basic realm=%q`, h.realm) }

func (h *BasicHandler) MatchChallenge(authHeader string) bool {
	return strings.HasPrefix(authHeader, "Basic ")
}

func (h *BasicHandler) Authenticate(ctx context.Context, authHeader string) (string, error) {
	cred := strings.TrimPrefix(authHeader, "Basic ")
	if user, ok := h.cache.get(cred); ok {
		return user, nil
	}

	raw, err := base64.StdEncoding.DecodeString(cred)
	if err != nil {
		return "", ErrUnauthenticated
	}
	user, _, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.validatorURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", authHeader)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", ErrUnauthenticated
	}

	h.cache.put(cred, user)
	return user, nil
}
