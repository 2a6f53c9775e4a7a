package port

import "sync"

// MessageChannel is a pair of entangled in-memory ports. Whatever is posted on one
// port is delivered to the listeners of the other.
type MessageChannel struct {
	Port1 *MessagePort
	Port2 *MessagePort
}

// NewMessageChannel creates two entangled ports. Neither delivers anything until
// Start is called on it.
func NewMessageChannel() *MessageChannel {
	p1, p2 := newMessagePort(), newMessagePort()
	p1.peer, p2.peer = p2, p1
	return &MessageChannel{Port1: p1, Port2: p2}
}

// Close closes both ports.
func (mc *MessageChannel) Close() {
	mc.Port1.Close()
	mc.Port2.Close()
}

// MessagePort is one end of a MessageChannel.
//
// Inbound messages are queued without bound until the port is started; after that a
// dispatcher goroutine hands them, in arrival order and one at a time, to every
// listener.
type MessagePort struct {
	Listeners

	peer *MessagePort

	mu    sync.Mutex
	queue []any
	wake  chan struct{} // capacity 1, signals a non-empty queue

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
}

func newMessagePort() *MessagePort {
	return &MessagePort{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// PostMessage clones msg, moving the buffers listed in opts, and queues the clone
// on the peer. Messages to a closed peer are dropped.
func (p *MessagePort) PostMessage(msg any, opts *TransferOptions) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	cloned, err := Clone(msg, opts)
	if err != nil {
		return err
	}
	p.peer.enqueue(cloned)
	return nil
}

// Start begins delivery of queued and future messages.
func (p *MessagePort) Start() {
	p.startOnce.Do(func() {
		go p.dispatch()
	})
}

// Close stops delivery. Messages still queued are discarded.
func (p *MessagePort) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}

// Done is closed when the port is closed.
func (p *MessagePort) Done() <-chan struct{} {
	return p.closed
}

func (p *MessagePort) enqueue(msg any) {
	select {
	case <-p.closed:
		return
	default:
	}

	p.mu.Lock()
	p.queue = append(p.queue, msg)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *MessagePort) dispatch() {
	for {
		select {
		case <-p.closed:
			return
		case <-p.wake:
		}

		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()

		for _, msg := range batch {
			select {
			case <-p.closed:
				return
			default:
			}
			p.Emit(msg)
		}
	}
}
