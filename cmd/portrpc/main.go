// Command portrpc serves, hosts and calls port RPC responders.
//
//	portrpc serve  --listen :9090 --service echo --etcd 127.0.0.1:2379
//	portrpc send   --addr 127.0.0.1:9090 '"ping"'
//	portrpc send   --exec 'portrpc worker' '{"hello":"world"}'
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func newLogger(c *cli.Context) (*zap.Logger, error) {
	if c.Bool("debug") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	app := &cli.App{
		Name:    "portrpc",
		Usage:   "request/response calls over message ports",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "human readable debug logging",
				EnvVars: []string{"PORTRPC_DEBUG"},
			},
			&cli.StringFlag{
				Name:    "codec",
				Value:   "json",
				Usage:   "wire codec of stream ports (json, msgpack)",
				EnvVars: []string{"PORTRPC_CODEC"},
			},
			&cli.StringSliceFlag{
				Name:    "etcd",
				Usage:   "etcd endpoints of the service registry",
				EnvVars: []string{"PORTRPC_ETCD_ENDPOINTS"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   10 * time.Second,
				Usage:   "per request timeout",
				EnvVars: []string{"PORTRPC_TIMEOUT"},
			},
		},
		Commands: []*cli.Command{
			serveCommand,
			workerCommand,
			sendCommand,
			watchCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "portrpc:", err)
		os.Exit(1)
	}
}
