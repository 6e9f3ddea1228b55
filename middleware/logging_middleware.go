package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request, sink Sink) error {
			start := time.Now()
			counted := &countingSink{Sink: sink}
			err := next(ctx, req, counted)

			fields := []zap.Field{
				zap.String("route", req.Route),
				zap.Stringer("kind", req.Kind),
				zap.Uint32("stream", req.StreamID),
				zap.Int("emitted", counted.n),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
			} else {
				logger.Info("request handled", fields...)
			}
			return err
		}
	}
}

type countingSink struct {
	Sink
	n int
}

func (s *countingSink) Next(v any) error {
	if err := s.Sink.Next(v); err != nil {
		return err
	}
	s.n++
	return nil
}
