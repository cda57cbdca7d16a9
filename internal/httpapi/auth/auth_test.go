package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicHandlerAuthenticatesAgainstValidator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && user == "foo" && pass == "bar" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	h := NewBasicHandler("irobot", srv.URL, time.Minute, srv.Client())
	cred := base64.StdEncoding.EncodeToString([]byte("foo:bar"))

	assert.True(t, h.MatchChallenge("Basic "+cred))
	user, err := h.Authenticate(context.Background(), "Basic "+cred)
	require.NoError(t, err)
	assert.Equal(t, "foo", user)
}

func TestBasicHandlerRejectsBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	h := NewBasicHandler("irobot", srv.URL, time.Minute, srv.Client())
	cred := base64.StdEncoding.EncodeToString([]byte("foo:wrong"))

	_, err := h.Authenticate(context.Background(), "Basic "+cred)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestBasicHandlerCachesSuccessfulValidation(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewBasicHandler("irobot", srv.URL, time.Minute, srv.Client())
	cred := base64.StdEncoding.EncodeToString([]byte("foo:bar"))

	_, err := h.Authenticate(context.Background(), "Basic "+cred)
	require.NoError(t, err)
	_, err = h.Authenticate(context.Background(), "Basic "+cred)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestChainTriesHandlersInOrderAndReportsChallenges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	basic := NewBasicHandler("irobot", srv.URL, 0, srv.Client())
	arvados := NewArvadosHandler("arvados.example.org", "v1", 0, srv.Client())
	chain := NewChain(basic, arvados)

	assert.Contains(t, chain.WWWAuthenticate(), `Basic realm="irobot"`)
	assert.Contains(t, chain.WWWAuthenticate(), `Bearer realm="arvados.example.org"`)

	cred := base64.StdEncoding.EncodeToString([]byte("foo:bar"))
	req := httptest.NewRequest(http.MethodGet, "http://irobot.example/x", nil)
	req.Header.Set("Authorization", "Basic "+cred)

	user, name, err := chain.Authenticate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "foo", user)
	assert.Equal(t, "basic_auth", name)
}

func TestChainRejectsMissingAuthorization(t *testing.T) {
	chain := NewChain()
	req := httptest.NewRequest(http.MethodGet, "http://irobot.example/x", nil)
	_, _, err := chain.Authenticate(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResponseCacheExpiresAfterDuration(t *testing.T) {
	c := newResponseCache(10 * time.Millisecond)
	c.put("k", "u")

	user, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, "u", user)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.get("k")
	assert.False(t, ok)
}
