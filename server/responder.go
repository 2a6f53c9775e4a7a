// Package server implements the responding side of port RPC.
//
// Register binds a handler to a port. Every request envelope arriving on the port
// is served on its own goroutine and answered with exactly one response envelope
// carrying the same correlation ID:
//
//	[id, payload] → middleware chain → handler → [id, nil, result] | [id, err]
//
// Handlers report failure by returning an error. A panicking handler is treated the
// same way, so the caller cannot tell the two apart. Server serves a handler on every
// connection accepted by a TCP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"port-rpc/codec"
	"port-rpc/message"
	"port-rpc/middleware"
	"port-rpc/port"
	"port-rpc/transport"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc serves one request payload.
type HandlerFunc = middleware.HandlerFunc

// PanicError is the failure reported for a handler that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Responder answers the requests arriving on one port.
type Responder struct {
	port        port.Port
	handler     HandlerFunc
	middlewares []middleware.Middleware
	logger      *zap.Logger

	remove  func()
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup // in-flight requests
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures a Responder.
type Option func(*Responder)

// WithMiddleware wraps the handler; middlewares run in the order given.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(r *Responder) {
		r.middlewares = append(r.middlewares, mws...)
	}
}

// WithLogger sets the responder's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Responder) {
		r.logger = logger
	}
}

// Register installs handler on p and starts p if it needs starting. A nil p means
// the process's own stdio, which is how a worker process answers its parent.
func Register(handler HandlerFunc, p port.Port, opts ...Option) *Responder {
	if p == nil {
		p = transport.StdioPort(codec.CodecTypeJSON)
	}

	r := &Responder{
		port:   p,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	// Build the middleware chain once at registration (not per-request)
	r.handler = middleware.Chain(r.middlewares...)(handler)
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.remove = p.AddListener(r.onMessage)
	if s, ok := p.(port.Starter); ok {
		s.Start()
	}
	return r
}

// onMessage filters foreign traffic and dispatches each request. Requests are served
// concurrently and may be answered out of order.
func (r *Responder) onMessage(msg any) {
	req, ok := message.DecodeRequest(msg)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.handleRequest(req)
	}()
}

func (r *Responder) handleRequest(req message.Request) {
	result, err := r.invoke(req.Payload)
	if err != nil {
		if !message.Truthy(err) {
			// A typed nil error would encode as success.
			err = &message.RemoteError{Message: fmt.Sprintf("handler returned nil %T as error", err)}
		}
		r.reply(message.NewFailure(req.ID, err), nil)
		return
	}

	value, opts := unwrap(result)
	if postErr := r.reply(message.NewSuccess(req.ID, value), opts); errors.Is(postErr, port.ErrDataClone) {
		// The result cannot cross the port; tell the caller instead of leaving it waiting.
		r.reply(message.NewFailure(req.ID, postErr), nil)
	}
}

// invoke runs the handler chain, turning a panic into an ordinary failure.
func (r *Responder) invoke(payload any) (result any, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("handler panicked", zap.Any("panic", v))
			result, err = nil, &PanicError{Value: v}
		}
	}()
	return r.handler(r.ctx, payload)
}

func (r *Responder) reply(resp message.Response, opts *port.TransferOptions) error {
	err := r.port.PostMessage(resp.Encode(), opts)
	if err != nil {
		r.logger.Warn("failed to post response",
			zap.Uint64("id", resp.ID),
			zap.Bool("failure", resp.Failed()),
			zap.Error(err))
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight handlers, at most
// timeout. Handlers see their context cancelled once the wait times out.
func (r *Responder) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.remove()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-time.After(timeout):
		r.cancel()
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}
