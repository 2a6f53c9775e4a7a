package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"port-rpc/registry"
	"syscall"

	"github.com/urfave/cli/v2"
)

var watchCommand = &cli.Command{
	Name:  "watch",
	Usage: "print the instances of a service every time they change",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "service",
			Value:   "echo",
			Usage:   "service to watch",
			EnvVars: []string{"PORTRPC_SERVICE"},
		},
	},
	Action: func(c *cli.Context) error {
		logger, err := newLogger(c)
		if err != nil {
			return err
		}
		defer logger.Sync()

		endpoints := c.StringSlice("etcd")
		if len(endpoints) == 0 {
			return errors.New("--etcd is required")
		}
		reg, err := registry.NewEtcdRegistry(endpoints, logger)
		if err != nil {
			return fmt.Errorf("connect etcd: %w", err)
		}
		defer reg.Close()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		service := c.String("service")
		current, err := reg.Discover(ctx, service)
		if err != nil {
			return err
		}
		if err := printInstances(current); err != nil {
			return err
		}
		for instances := range reg.Watch(ctx, service) {
			if err := printInstances(instances); err != nil {
				return err
			}
		}
		return nil
	},
}

func printInstances(instances []registry.ServiceInstance) error {
	if instances == nil {
		instances = []registry.ServiceInstance{}
	}
	out, err := json.Marshal(instances)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
