package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware admits r requests per second with the given burst
// (token bucket), across all routes.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request, sink Sink) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, req, sink)
		}
	}
}
