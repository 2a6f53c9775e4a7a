// Package loadbalance picks which registered responder a client dials.
//
// Two strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances (different CPU/memory)
package loadbalance

import (
	"errors"
	"port-rpc/registry"
)

// ErrNoInstances is returned by Pick when there is nothing to pick from.
var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. Must be goroutine-safe.
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name ("roundrobin", "weighted").
func New(name string) (Balancer, error) {
	switch name {
	case "roundrobin", "":
		return &RoundRobinBalancer{}, nil
	case "weighted":
		return &WeightedRandomBalancer{}, nil
	default:
		return nil, errors.New("unknown balancer " + name)
	}
}
