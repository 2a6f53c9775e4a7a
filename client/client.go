// Package client implements the calling side of port RPC.
//
// A Client turns a fire-and-forget port into request/response calls. Each call gets a
// correlation ID, is stored in a pending table, and is settled by the listener when a
// response envelope carrying the same ID arrives:
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ port ──→ Responder
//	goroutine-3 ──Send(id=3)──┘
//
//	listener:  ←── [2, nil, result] → pending[2] → goroutine-2 wakes up
//
// Anything on the port that is not a response envelope, or that carries an ID this
// client is not waiting for, is ignored. Several clients may therefore share a port,
// provided their IDs come from the same IDGenerator (the default one is shared).
package client

import (
	"context"
	"errors"
	"fmt"
	"port-rpc/message"
	"port-rpc/port"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed fails calls still pending when the client or its port is closed.
var ErrClosed = errors.New("client: closed")

// Call is one in-flight request. Done receives the call once it has settled.
type Call struct {
	ID      uint64
	Payload any
	Result  any   // set on success
	Error   error // set on failure
	Done    chan *Call
}

func (call *Call) done() {
	call.Done <- call
}

// Client is the caller endpoint bound to one port.
type Client struct {
	port    port.Port
	ids     *IDGenerator
	logger  *zap.Logger
	pending sync.Map // map[uint64]*Call

	remove    func()
	closeOnce sync.Once
	closed    chan struct{}
	owned     []func() error // closed along with the client (ports created by Dial)
}

// Option configures a Client.
type Option func(*Client)

// WithIDGenerator makes the client draw correlation IDs from ids. Clients sharing
// a port must share a generator.
func WithIDGenerator(ids *IDGenerator) Option {
	return func(c *Client) {
		c.ids = ids
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New binds a client to p and starts listening immediately. Ports that need
// activation are started.
func New(p port.Port, opts ...Option) *Client {
	c := &Client{
		port:   p,
		ids:    DefaultIDGenerator,
		logger: zap.NewNop(),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.remove = p.AddListener(c.onMessage)
	if s, ok := p.(port.Starter); ok {
		s.Start()
	}
	if d, ok := p.(port.Doner); ok {
		go c.watch(d.Done())
	}
	return c
}

// Go posts payload and returns immediately. The returned call's Done channel
// receives it once a response has been processed. A post failure completes the
// call at once with that error.
func (c *Client) Go(payload any, opts *port.TransferOptions) *Call {
	call := &Call{
		ID:      c.ids.Next(),
		Payload: payload,
		Done:    make(chan *Call, 1), // Buffered so the listener never blocks
	}

	select {
	case <-c.closed:
		call.Error = ErrClosed
		call.done()
		return call
	default:
	}

	// Register BEFORE posting: the response may arrive before PostMessage returns.
	c.pending.Store(call.ID, call)
	select {
	case <-c.closed:
		// Close ran between the check above and Store.
		c.failAllPending(ErrClosed)
		return call
	default:
	}

	if err := c.port.PostMessage(message.Request{ID: call.ID, Payload: payload}.Encode(), opts); err != nil {
		if _, ok := c.pending.LoadAndDelete(call.ID); ok {
			call.Error = err
			call.done()
		}
	}
	return call
}

// Send posts payload and waits for its response. When ctx ends first the call is
// forgotten, so a late response is discarded; the responder is not told.
func (c *Client) Send(ctx context.Context, payload any, opts *port.TransferOptions) (any, error) {
	call := c.Go(payload, opts)
	select {
	case <-call.Done:
		return call.Result, call.Error
	case <-ctx.Done():
		c.pending.Delete(call.ID)
		return nil, ctx.Err()
	}
}

// Pending returns the number of calls waiting for a response.
func (c *Client) Pending() int {
	n := 0
	c.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close stops listening and fails every pending call with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.remove()
		c.failAllPending(ErrClosed)
		for _, closeFn := range c.owned {
			err = errors.Join(err, closeFn())
		}
	})
	return err
}

// onMessage runs for every value arriving on the port. The pending record is
// removed before the call is settled, so a duplicated response settles nothing.
func (c *Client) onMessage(msg any) {
	resp, ok := message.DecodeResponse(msg)
	if !ok {
		return
	}

	v, ok := c.pending.LoadAndDelete(resp.ID)
	if !ok {
		return
	}

	call := v.(*Call)
	if resp.Failed() {
		call.Error = message.AsError(resp.Err)
	} else {
		call.Result = resp.Result
	}
	call.done()
}

// watch fails pending calls when the port goes away underneath the client.
func (c *Client) watch(portDone <-chan struct{}) {
	select {
	case <-portDone:
		c.logger.Debug("port closed, failing pending calls", zap.Int("pending", c.Pending()))
		c.failAllPending(ErrClosed)
	case <-c.closed:
	}
}

func (c *Client) failAllPending(err error) {
	c.pending.Range(func(key, _ any) bool {
		if v, ok := c.pending.LoadAndDelete(key); ok {
			call := v.(*Call)
			call.Error = err
			call.done()
		}
		return true
	})
}

// SendAs is Send with the result asserted to T. A nil result yields T's zero value.
func SendAs[T any](ctx context.Context, c *Client, payload any, opts *port.TransferOptions) (T, error) {
	var zero T
	result, err := c.Send(ctx, payload, opts)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("client: result has type %T, want %T", result, zero)
	}
	return typed, nil
}
