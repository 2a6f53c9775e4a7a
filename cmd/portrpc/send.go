package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"port-rpc/client"
	"port-rpc/codec"
	"port-rpc/loadbalance"
	"port-rpc/port"
	"port-rpc/registry"
	"port-rpc/transport"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "send one request and print its result as JSON",
	ArgsUsage: "[payload as JSON]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "dial this responder directly",
			EnvVars: []string{"PORTRPC_ADDR"},
		},
		&cli.StringFlag{
			Name:  "exec",
			Usage: "start this command as a worker and call it over its stdio",
		},
		&cli.StringFlag{
			Name:    "service",
			Value:   "echo",
			Usage:   "service to discover in etcd when --addr and --exec are not set",
			EnvVars: []string{"PORTRPC_SERVICE"},
		},
		&cli.StringFlag{
			Name:    "balancer",
			Value:   "roundrobin",
			Usage:   "instance selection (roundrobin, weighted)",
			EnvVars: []string{"PORTRPC_BALANCER"},
		},
		&cli.PathFlag{
			Name:  "file",
			Usage: "send the contents of this file as a transferred buffer instead of a JSON payload",
		},
	},
	Action: func(c *cli.Context) error {
		logger, err := newLogger(c)
		if err != nil {
			return err
		}
		defer logger.Sync()

		payload, opts, err := readPayload(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()

		cl, err := connect(ctx, c, logger)
		if err != nil {
			return err
		}
		defer cl.Close()

		result, err := cl.Send(ctx, payload, opts)
		if err != nil {
			return err
		}
		out, err := json.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func readPayload(c *cli.Context) (any, *port.TransferOptions, error) {
	if path := c.Path("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		buf := port.NewBuffer(data)
		return buf, &port.TransferOptions{Transfer: []*port.Buffer{buf}}, nil
	}

	if c.NArg() == 0 {
		return "ping", nil, nil
	}
	var payload any
	if err := json.Unmarshal([]byte(c.Args().First()), &payload); err != nil {
		return nil, nil, fmt.Errorf("payload is not JSON: %w", err)
	}
	return payload, nil, nil
}

// connect picks the target in order of precedence: --exec, --addr, then etcd.
func connect(ctx context.Context, c *cli.Context, logger *zap.Logger) (*closer, error) {
	codecType, err := codec.ParseCodecType(c.String("codec"))
	if err != nil {
		return nil, err
	}
	opts := []client.Option{client.WithLogger(logger)}

	if command := strings.Fields(c.String("exec")); len(command) > 0 {
		p, err := transport.NewCmdPort(exec.CommandContext(c.Context, command[0], command[1:]...), codecType,
			transport.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("start worker: %w", err)
		}
		return &closer{Client: client.New(p, opts...), port: p}, nil
	}

	if addr := c.String("addr"); addr != "" {
		cl, err := client.DialAddr(ctx, addr, codecType, opts...)
		if err != nil {
			return nil, err
		}
		return &closer{Client: cl}, nil
	}

	endpoints := c.StringSlice("etcd")
	if len(endpoints) == 0 {
		return nil, errors.New("one of --exec, --addr or --etcd is required")
	}
	reg, err := registry.NewEtcdRegistry(endpoints, logger)
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	bal, err := loadbalance.New(c.String("balancer"))
	if err != nil {
		reg.Close()
		return nil, err
	}
	cl, err := client.Dial(ctx, reg, bal, c.String("service"), opts...)
	if err != nil {
		reg.Close()
		return nil, err
	}
	return &closer{Client: cl, reg: reg}, nil
}

// closer releases whatever connect set up besides the client.
type closer struct {
	*client.Client
	port *transport.StreamPort
	reg  *registry.EtcdRegistry
}

func (c *closer) Close() error {
	err := c.Client.Close()
	if c.port != nil {
		err = errors.Join(err, c.port.Close())
	}
	if c.reg != nil {
		err = errors.Join(err, c.reg.Close())
	}
	return err
}
