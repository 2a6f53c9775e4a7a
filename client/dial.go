package client

import (
	"context"
	"fmt"
	"net"
	"port-rpc/codec"
	"port-rpc/loadbalance"
	"port-rpc/registry"
	"port-rpc/transport"

	"go.uber.org/zap"
)

// Dial discovers the instances of service in reg, picks one with bal, connects to it
// over TCP and returns a client on the resulting stream port. Closing the client
// closes the connection.
func Dial(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", service, err)
	}

	instance, err := bal.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("pick %s instance: %w", service, err)
	}

	codecType, err := codec.ParseCodecType(instance.Codec)
	if err != nil {
		return nil, err
	}

	return DialAddr(ctx, instance.Addr, codecType, opts...)
}

// DialAddr connects to a responder served at addr.
func DialAddr(ctx context.Context, addr string, codecType codec.CodecType, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The port logs with the same logger as the client.
	cfg := &Client{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(cfg)
	}

	p := transport.NewStreamPort(conn, codecType, transport.WithLogger(cfg.logger))
	c := New(p, opts...)
	c.owned = append(c.owned, p.Close)
	return c, nil
}
