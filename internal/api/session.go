package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const sessionCookie = "sf_session"

type sessionKey struct{}

// sessionFromContext returns the storefront session id for the request.
func sessionFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey{}).(string); ok {
		return id
	}
	return ""
}

// withSession ensures every request carries a storefront session id. An
// existing X-Session-ID header or session cookie is reused; otherwise a new
// id is issued and set as a cookie.
func withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Session-ID")
		if id == "" {
			if c, err := r.Cookie(sessionCookie); err == nil {
				id = c.Value
			}
		}
		if id == "" || uuid.Validate(id) != nil {
			id = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
