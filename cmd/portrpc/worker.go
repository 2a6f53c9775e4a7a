package main

import (
	"os"
	"os/signal"
	"port-rpc/codec"
	"port-rpc/server"
	"port-rpc/transport"
	"syscall"

	"github.com/urfave/cli/v2"
)

var workerCommand = &cli.Command{
	Name:  "worker",
	Usage: "answer the parent process over stdin/stdout",
	Description: "Run as a child of 'portrpc send --exec' or of any program using a command port.\n" +
		"Logs go to stderr; stdout carries frames only.",
	Flags: middlewareFlags,
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

		p := transport.StdioPort(codecType, transport.WithLogger(logger))
		r := server.Register(echo, p,
			server.WithMiddleware(middlewares(c, logger)...),
			server.WithLogger(logger))

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case <-p.Done():
			logger.Debug("parent closed the pipe")
		case <-ctx.Done():
		}
		return r.Shutdown(c.Duration("timeout"))
	},
}
