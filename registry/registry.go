package registry

import "context"

// ServiceInstance is one responder reachable over TCP.
type ServiceInstance struct {
	Addr    string
	Weight  int    // Weight for load balancing
	Version string
	Codec   string // codec the responder's stream ports use ("json", "msgpack")
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
