package httputil

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type KeyAuthMiddleware struct {
	keys []string
}

func NewKeyAuth(keys []string) *KeyAuthMiddleware {
	return &KeyAuthMiddleware{keys: keys}
}

// Middleware rejects requests without a matching bearer key. It fits
// mux.Router.Use.
func (m *KeyAuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !m.check(r.Header.Get("Authorization")) {
			RespondError(rw, http.StatusUnauthorized, "invalid key")
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func (m *KeyAuthMiddleware) check(authz string) bool {
	bearer, key, ok := strings.Cut(authz, " ")
	if !ok || strings.ToLower(bearer) != "bearer" {
		return false
	}

	c := 0
	for _, k := range m.keys {
		c += subtle.ConstantTimeCompare([]byte(k), []byte(key))
	}
	return c != 0
}
