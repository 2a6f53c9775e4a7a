package main

import (
	"context"
	"errors"
	"port-rpc/middleware"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// echo answers "ping" with "pong" and everything else with itself.
func echo(ctx context.Context, payload any) (any, error) {
	if payload == "ping" {
		return "pong", nil
	}
	return payload, nil
}

var middlewareFlags = []cli.Flag{
	&cli.Float64Flag{
		Name:    "rate",
		Usage:   "requests per second allowed per connection, 0 for unlimited",
		EnvVars: []string{"PORTRPC_RATE"},
	},
	&cli.IntFlag{
		Name:    "burst",
		Value:   10,
		Usage:   "rate limiter burst",
		EnvVars: []string{"PORTRPC_BURST"},
	},
	&cli.DurationFlag{
		Name:    "handler-timeout",
		Usage:   "answer with a timeout error when the handler is slower, 0 to disable",
		EnvVars: []string{"PORTRPC_HANDLER_TIMEOUT"},
	},
	&cli.IntFlag{
		Name:    "retries",
		Usage:   "retries of a handler that timed out",
		EnvVars: []string{"PORTRPC_RETRIES"},
	},
}

// middlewares builds the chain selected by middlewareFlags. Logging is always on.
func middlewares(c *cli.Context, logger *zap.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if r := c.Float64("rate"); r > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(r, c.Int("burst")))
	}
	if n := c.Int("retries"); n > 0 {
		mws = append(mws, middleware.RetryMiddleware(n, 50*time.Millisecond, func(err error) bool {
			return errors.Is(err, middleware.ErrTimeout)
		}, logger))
	}
	if d := c.Duration("handler-timeout"); d > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(d))
	}
	return mws
}
