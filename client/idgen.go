package client

import "sync/atomic"

// IDGenerator hands out correlation IDs from a monotonically increasing counter,
// starting at 0. IDs only need to be unique among the calls outstanding on one
// port, but a counter shared by every client on that port is the simplest way to
// guarantee it.
type IDGenerator struct {
	next atomic.Uint64
}

// DefaultIDGenerator is shared by every client that is not given its own.
var DefaultIDGenerator = &IDGenerator{}

// Next returns the next ID.
func (g *IDGenerator) Next() uint64 {
	return g.next.Add(1) - 1
}
