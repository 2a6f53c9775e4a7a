package middleware

import (
	"context"
	"errors"
	"time"
)

var ErrTimeout = errors.New("request timed out")

// TimeOutMiddleware answers ErrTimeout when the handler has not returned within
// timeout. The handler keeps running with a cancelled context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, payload any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				result any
				err    error
				panic  any
			}
			done := make(chan outcome, 1)
			go func() {
				defer func() {
					if v := recover(); v != nil {
						done <- outcome{panic: v}
					}
				}()
				result, err := next(ctx, payload)
				done <- outcome{result: result, err: err}
			}()

			select {
			case o := <-done:
				if o.panic != nil {
					// Re-raise on the calling goroutine, where the responder recovers it.
					panic(o.panic)
				}
				return o.result, o.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
