package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/lotwatch/lotwatch/internal/model"
	"github.com/lotwatch/lotwatch/internal/store"
)

type contextKey string

const userContextKey contextKey = "lotwatch-user"

// AuthMiddleware returns an http.Handler that authenticates the request
// with the X-Auth-Email and X-Auth-Pin headers and stores the resolved
// user on the request context. Failures return 401 with a JSON body.
func AuthMiddleware(repo *store.Repo, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := NormalizeEmail(r.Header.Get("X-Auth-Email"))
		pin := r.Header.Get("X-Auth-Pin")
		if email == "" || pin == "" {
			WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing X-Auth-Email or X-Auth-Pin header")
			return
		}

		user, err := repo.AuthByEmailAndPin(email, pin)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unknown email or wrong PIN")
				return
			}
			writeStoreError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// UserFromContext returns the user placed on the context by AuthMiddleware.
func UserFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(userContextKey).(model.User)
	return u, ok
}

// RequestBodyLimitMiddleware enforces a max request body size for
// downstream handlers.
func RequestBodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r != nil && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
