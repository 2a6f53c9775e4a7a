package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryMiddleware re-runs the handler while it fails with an error retryable
// accepts, sleeping baseDelay, 2*baseDelay, 4*baseDelay... in between.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable func(error) bool, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, payload any) (any, error) {
			result, err := next(ctx, payload)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return result, err
				}
				logger.Info("retrying request", zap.Int("attempt", i+1), zap.Error(err))

				timer := time.NewTimer(baseDelay * time.Duration(1<<i)) // Exponential backoff
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
				result, err = next(ctx, payload)
			}
			return result, err // Return last outcome after retries
		}
	}
}
