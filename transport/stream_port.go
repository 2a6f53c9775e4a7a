// Package transport provides a port.Port over a byte stream.
//
// StreamPort frames every posted message with the protocol package and encodes it
// with a codec, so the two ends of a TCP connection, a pipe or a child process's
// stdio can talk exactly like two in-memory ports:
//
//	PostMessage ──Encode──► frame ──► conn ──► readLoop ──Decode──► listeners
//
// A single goroutine (readLoop) reads the stream, since frame boundaries can only be
// parsed sequentially. Writes are serialized by a mutex so frames never interleave.
package transport

import (
	"fmt"
	"io"
	"port-rpc/codec"
	"port-rpc/message"
	"port-rpc/port"
	"port-rpc/protocol"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultHeartbeat is the keepalive interval used when none is configured.
const DefaultHeartbeat = 30 * time.Second

// StreamPort manages a single framed byte stream.
type StreamPort struct {
	port.Listeners

	conn      io.ReadWriteCloser
	codec     codec.Codec
	heartbeat time.Duration
	maxFrame  uint32
	logger    *zap.Logger

	sending sync.Mutex // Write lock, one frame at a time

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	wg        sync.WaitGroup
}

// Option configures a StreamPort.
type Option func(*StreamPort)

// WithHeartbeat sets the keepalive interval. Zero or negative disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(p *StreamPort) {
		p.heartbeat = interval
	}
}

// WithMaxFrame lowers the largest body PostMessage will send. It cannot exceed
// protocol.MaxBodyLen, which is what the reading side accepts.
func WithMaxFrame(n uint32) Option {
	return func(p *StreamPort) {
		if n > 0 && n < protocol.MaxBodyLen {
			p.maxFrame = n
		}
	}
}

// WithLogger sets the logger used for read failures and dropped frames.
func WithLogger(logger *zap.Logger) Option {
	return func(p *StreamPort) {
		p.logger = logger
	}
}

// NewStreamPort wraps conn. Nothing is read until Start.
func NewStreamPort(conn io.ReadWriteCloser, codecType codec.CodecType, opts ...Option) *StreamPort {
	p := &StreamPort{
		conn:      conn,
		codec:     codec.GetCodec(codecType),
		heartbeat: DefaultHeartbeat,
		maxFrame:  protocol.MaxBodyLen,
		logger:    zap.NewNop(),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the read loop and, if enabled, the heartbeat loop.
func (p *StreamPort) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.readLoop()
		if p.heartbeat > 0 {
			p.wg.Add(1)
			go p.heartbeatLoop(p.heartbeat)
		}
	})
}

// PostMessage encodes msg and writes it as one frame. Transferred buffers are
// detached once the frame is written: the bytes now belong to the other side.
func (p *StreamPort) PostMessage(msg any, opts *port.TransferOptions) error {
	select {
	case <-p.closed:
		return port.ErrClosed
	default:
	}

	if opts != nil {
		for _, b := range opts.Transfer {
			if b == nil || b.Detached() {
				return fmt.Errorf("%w: buffer in transfer list is nil or detached", port.ErrDataClone)
			}
		}
	}

	body, err := p.codec.Encode(message.Portable(msg))
	if err != nil {
		return fmt.Errorf("%w: %v", port.ErrDataClone, err)
	}
	// An oversized message fails on its own; the stream stays usable.
	if uint64(len(body)) > uint64(p.maxFrame) {
		return fmt.Errorf("%w: %w: %d bytes", port.ErrDataClone, protocol.ErrBodyTooLarge, len(body))
	}

	header := protocol.Header{
		CodecType: byte(p.codec.Type()),
		MsgType:   protocol.MsgTypeMessage,
		BodyLen:   uint32(len(body)),
	}

	p.sending.Lock()
	err = protocol.Encode(p.conn, &header, body)
	p.sending.Unlock()
	if err != nil {
		p.closeWith(err)
		return fmt.Errorf("%w: %v", port.ErrClosed, err)
	}

	if opts != nil {
		for _, b := range opts.Transfer {
			b.Detach()
		}
	}
	return nil
}

// Close closes the underlying stream and waits for the port's goroutines.
func (p *StreamPort) Close() error {
	p.closeWith(nil)
	p.wg.Wait()
	return p.closeErr
}

// Done is closed once the stream has failed or been closed.
func (p *StreamPort) Done() <-chan struct{} {
	return p.closed
}

func (p *StreamPort) closeWith(cause error) {
	p.closeOnce.Do(func() {
		close(p.closed)
		if err := p.conn.Close(); err != nil && cause == nil {
			p.closeErr = err
		}
	})
}

// readLoop reads frames until the stream fails, decoding each message frame with the
// codec named in its header and handing the result to the listeners.
func (p *StreamPort) readLoop() {
	defer p.wg.Done()
	for {
		header, body, err := protocol.Decode(p.conn)
		if err != nil {
			select {
			case <-p.closed:
			default:
				if err != io.EOF {
					p.logger.Debug("stream port read failed", zap.Error(err))
				}
			}
			p.closeWith(err)
			return
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		var msg any
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		if err := cdc.Decode(body, &msg); err != nil {
			p.logger.Warn("dropping undecodable frame",
				zap.Stringer("codec", cdc.Type()),
				zap.Int("bytes", len(body)),
				zap.Error(err))
			continue
		}
		p.Emit(msg)
	}
}

// heartbeatLoop sends an empty heartbeat frame every interval so idle streams are
// noticed by whatever sits in between (proxies, NAT, the peer's read deadline).
func (p *StreamPort) heartbeatLoop(interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
		}

		header := &protocol.Header{
			CodecType: byte(p.codec.Type()),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		p.sending.Lock()
		err := protocol.Encode(p.conn, header, nil)
		p.sending.Unlock()
		if err != nil {
			p.closeWith(err)
			return
		}
	}
}
