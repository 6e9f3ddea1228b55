package middleware

import (
	"context"
	"errors"
	"item-rsocket/protocol"
	"time"
)

var ErrRequestTimeout = errors.New("request timed out")

// TimeOutMiddleware bounds request-response and fire-and-forget handlers.
// Streams are open-ended by nature and pass through untouched.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request, sink Sink) error {
			if req.Kind == protocol.MsgTypeRequestStream {
				return next(ctx, req, sink)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, req, sink)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ErrRequestTimeout
			}
		}
	}
}
