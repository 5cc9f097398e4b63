package ratelimit

import (
	"net/http"

	"golang.org/x/time/rate"
)

type Middleware struct {
	limiter *rate.Limiter
}

func NewMiddleware(limit rate.Limit, burst int) *Middleware {
	return &Middleware{limiter: rate.NewLimiter(limit, burst)}
}

func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !m.limiter.Allow() {
			http.Error(rw, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(rw, r)
	})
}
