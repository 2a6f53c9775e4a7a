package main

import (
	"fmt"
	"os"
	"os/signal"
	"port-rpc/codec"
	"port-rpc/registry"
	"port-rpc/server"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "serve the echo responder over TCP",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Value:   ":9090",
			Usage:   "address to listen on",
			EnvVars: []string{"PORTRPC_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "advertise",
			Usage:   "address clients dial, defaults to the listener address",
			EnvVars: []string{"PORTRPC_ADVERTISE"},
		},
		&cli.StringFlag{
			Name:    "service",
			Value:   "echo",
			Usage:   "service name in the registry",
			EnvVars: []string{"PORTRPC_SERVICE"},
		},
		&cli.DurationFlag{
			Name:    "heartbeat",
			Value:   30 * time.Second,
			Usage:   "keepalive interval of accepted connections",
			EnvVars: []string{"PORTRPC_HEARTBEAT"},
		},
	}, middlewareFlags...),
	Action: func(c *cli.Context) error {
		logger, err := newLogger(c)
		if err != nil {
			return err
		}
		defer logger.Sync()

		codecType, err := codec.ParseCodecType(c.String("codec"))
		if err != nil {
			return err
		}

		var reg registry.Registry
		if endpoints := c.StringSlice("etcd"); len(endpoints) > 0 {
			etcd, err := registry.NewEtcdRegistry(endpoints, logger)
			if err != nil {
				return fmt.Errorf("connect etcd: %w", err)
			}
			defer etcd.Close()
			reg = etcd
		}

		s := server.NewServer(echo,
			server.WithCodec(codecType),
			server.WithServerLogger(logger),
			server.WithHeartbeat(c.Duration("heartbeat")))
		for _, mw := range middlewares(c, logger) {
			s.Use(mw)
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		served := make(chan error, 1)
		go func() {
			served <- s.Serve("tcp", c.String("listen"), c.String("advertise"), c.String("service"), reg)
		}()

		select {
		case err := <-served:
			return err
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		if err := s.Shutdown(c.Duration("timeout")); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
		return <-served
	},
}
