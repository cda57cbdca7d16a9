package httpapi

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/wtsi-hgi/irobot/internal/httpapi/auth"
)

// ConnCounter tracks the number of requests currently being served, for the
// connection-accounting middleware stage (spec.md §4.4/§5's
// max_connections admission gate) and the /_status snapshot.
type ConnCounter struct {
	active int64
	max    int64 // 0 = unbounded
}

// NewConnCounter builds a ConnCounter that refuses new requests with 503
// once max concurrent requests are in flight. max<=0 means unbounded.
func NewConnCounter(max int64) *ConnCounter {
	return &ConnCounter{max: max}
}

// Count reports the current number of in-flight requests.
func (c *ConnCounter) Count() int64 { return atomic.LoadInt64(&c.active) }

// Middleware is the outermost stage of the chain: connection accounting,
// per spec.md §4.4's mandated ordering "connection accounting -> catch-500
// -> per-request timeout -> authentication".
func (c *ConnCounter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.max > 0 && atomic.LoadInt64(&c.active) >= c.max {
			writeProblem(w, http.StatusServiceUnavailable, "too many concurrent connections")
			return
		}
		atomic.AddInt64(&c.active, 1)
		defer atomic.AddInt64(&c.active, -1)
		next.ServeHTTP(w, r)
	})
}

// Recoverer is the catch-500 stage: it turns a panicking handler into a
// 500 response with the standard error envelope, instead of crashing the
// connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeProblem(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Timeout is the per-request-timeout stage: a request that does not
// complete within d is aborted with 504.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"status":504,"reason":"Upstream Timeout","description":"request timed out"}`)
	}
}

// AuthMiddleware is the innermost stage: it authenticates the request
// against chain and rejects with 401 + WWW-Authenticate on failure,
// otherwise stashes the authenticated username in the request context.
func AuthMiddleware(chain *auth.Chain) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, handlerName, err := chain.Authenticate(r.Context(), r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", chain.WWWAuthenticate())
				writeProblem(w, http.StatusUnauthorized, "authentication required")
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, authenticatedUser{Name: user, Handler: handlerName})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type contextKey string

const userContextKey contextKey = "irobot-user"

type authenticatedUser struct {
	Name    string
	Handler string
}

// UserFromContext returns the username the auth chain authenticated for
// this request, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userContextKey).(authenticatedUser)
	return u.Name, ok
}
