package middleware

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, payload any) (any, error) {
			start := time.Now()
			result, err := next(ctx, payload)
			fields := []zap.Field{
				zap.String("payload", fmt.Sprintf("%T", payload)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("request served", fields...)
			}
			return result, err
		}
	}
}
