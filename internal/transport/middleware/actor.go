package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/heartmarshall/bloodlink-backend/pkg/ctxutil"
)

// ActorHeader carries the caller's identity-provider user ID. The upstream
// gateway authenticates the caller and sets it.
const ActorHeader = "X-Actor-Id"

// Actor stores the caller ID from ActorHeader in the request context.
// Requests without the header pass through anonymously; a malformed or
// non-positive ID is rejected with 400.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid "+ActorHeader, http.StatusBadRequest)
			return
		}
		ctx := ctxutil.WithActorID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
