// Package port defines the duplex channel contract the RPC endpoints run on, and
// an in-memory implementation of it.
//
// A Port is fire-and-forget: PostMessage hands a value to the other side and returns,
// and every value arriving from the other side is delivered to each listener. Ports
// that queue inbound traffic until explicitly activated implement Starter.
package port

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned when posting on a closed port.
	ErrClosed = errors.New("port: closed")
	// ErrDataClone is returned when a value or its transfer list cannot be cloned.
	ErrDataClone = errors.New("port: value could not be cloned")
)

// Listener receives every inbound value.
type Listener func(msg any)

// Port is a duplex message channel.
type Port interface {
	// PostMessage sends msg to the other side. Buffers named in opts are moved
	// rather than copied.
	PostMessage(msg any, opts *TransferOptions) error
	// AddListener subscribes l to inbound values and returns a func that removes it.
	AddListener(l Listener) (remove func())
}

// Starter is implemented by ports that do not deliver messages until started.
type Starter interface {
	Start()
}

// Doner is implemented by ports that can report they have gone away.
type Doner interface {
	Done() <-chan struct{}
}

// TransferOptions lists the buffers whose ownership moves to the receiver.
type TransferOptions struct {
	Transfer []*Buffer
}

// Listeners is a goroutine-safe listener set. Port implementations embed it.
type Listeners struct {
	mu     sync.Mutex
	nextID uint64
	order  []uint64
	byID   map[uint64]Listener
}

// AddListener registers l. Removing twice is a no-op.
func (ls *Listeners) AddListener(l Listener) (remove func()) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.byID == nil {
		ls.byID = make(map[uint64]Listener)
	}
	id := ls.nextID
	ls.nextID++
	ls.byID[id] = l
	ls.order = append(ls.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { ls.remove(id) })
	}
}

func (ls *Listeners) remove(id uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	delete(ls.byID, id)
	for i, v := range ls.order {
		if v == id {
			ls.order = append(ls.order[:i], ls.order[i+1:]...)
			break
		}
	}
}

// Emit delivers msg to a snapshot of the current listeners in registration order,
// so listeners may add or remove listeners while being called.
func (ls *Listeners) Emit(msg any) {
	ls.mu.Lock()
	snapshot := make([]Listener, 0, len(ls.order))
	for _, id := range ls.order {
		snapshot = append(snapshot, ls.byID[id])
	}
	ls.mu.Unlock()

	for _, l := range snapshot {
		l(msg)
	}
}

// Len returns the number of registered listeners.
func (ls *Listeners) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.order)
}
