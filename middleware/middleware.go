package middleware

import (
	"context"
)

// HandlerFunc serves one request payload. A returned error, or a panic recovered by
// the responder, becomes the failure slot of the response.
type HandlerFunc func(ctx context.Context, payload any) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
// Chain(A, B, C)(h) == A(B(C(h))): A sees the request first and the result last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
