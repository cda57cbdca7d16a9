package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ArvadosHandler implements the `arvados_auth` method: an Arvados API
// token, presented as a Bearer credential, is validated against the
// configured Arvados API host's /users/current endpoint.
type ArvadosHandler struct {
	apiHost    string
	apiVersion string
	client     *http.Client
	cache      *responseCache
}

// NewArvadosHandler constructs an ArvadosHandler.
func NewArvadosHandler(apiHost, apiVersion string, cacheDuration time.Duration, client *http.Client) *ArvadosHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if apiVersion == "" {
		apiVersion = "v1"
	}
	return &ArvadosHandler{apiHost: apiHost, apiVersion: apiVersion, client: client, cache: newResponseCache(cacheDuration)}
}

func (h *ArvadosHandler) Name() string { return "arvados_auth" }

func (h *ArvadosHandler) Challenge() string {
	return fmt.Sprintf(`Bearer realm=%q`, h.apiHost)
}

func (h *ArvadosHandler) MatchChallenge(authHeader string) bool {
	return strings.HasPrefix(authHeader, "Bearer ") || strings.HasPrefix(authHeader, "OAuth2 ")
}

type arvadosCurrentUser struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
}

func (h *ArvadosHandler) Authenticate(ctx context.Context, authHeader string) (string, error) {
	token := strings.TrimPrefix(strings.TrimPrefix(authHeader, "Bearer "), "OAuth2 ")
	if user, ok := h.cache.get(token); ok {
		return user, nil
	}

	url := fmt.Sprintf("https://%s/arvados/%s/users/current", h.apiHost, h.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ErrUnauthenticated
	}

	var cu arvadosCurrentUser
	if err := json.NewDecoder(resp.Body).Decode(&cu); err != nil {
		return "", ErrUnauthenticated
	}
	user := cu.Username
	if user == "" {
		user = cu.UUID
	}

	h.cache.put(token, user)
	return user, nil
}
