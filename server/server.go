package server

import (
	"context"
	"fmt"
	"net"
	"port-rpc/codec"
	"port-rpc/middleware"
	"port-rpc/registry"
	"port-rpc/transport"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server serves one handler on every connection accepted from a listener. Each
// connection becomes a transport.StreamPort with its own Responder.
//
//	Accept conn → StreamPort (readLoop) → Responder → go handler per request
type Server struct {
	handler     HandlerFunc
	codecType   codec.CodecType
	middlewares []middleware.Middleware
	logger      *zap.Logger
	heartbeat   time.Duration
	maxFrame    uint32

	listener    net.Listener
	ready       chan struct{} // closed once listener is set
	shutdown    atomic.Bool   // Set to true during shutdown to suppress Accept errors
	registry    registry.Registry
	serviceName string
	advertise   string

	mu    sync.Mutex
	conns map[*transport.StreamPort]*Responder
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCodec selects the codec of the server's stream ports.
func WithCodec(ct codec.CodecType) ServerOption {
	return func(s *Server) {
		s.codecType = ct
	}
}

// WithServerLogger sets the server's logger; responders inherit it.
func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHeartbeat sets the heartbeat interval of accepted connections.
func WithHeartbeat(interval time.Duration) ServerOption {
	return func(s *Server) {
		s.heartbeat = interval
	}
}

// WithMaxFrame caps the size of a single response on accepted connections. A
// larger result is answered with a failure instead.
func WithMaxFrame(n uint32) ServerOption {
	return func(s *Server) {
		s.maxFrame = n
	}
}

// NewServer creates a server for handler.
func NewServer(handler HandlerFunc, opts ...ServerOption) *Server {
	s := &Server{
		handler:   handler,
		codecType: codec.CodecTypeJSON,
		logger:    zap.NewNop(),
		heartbeat: transport.DefaultHeartbeat,
		ready:     make(chan struct{}),
		conns:     make(map[*transport.StreamPort]*Responder),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware. Middlewares are applied in the order they are added.
// Connections accepted afterwards pick it up.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address, optionally registers the service in reg under
// advertiseAddr, and accepts connections until Shutdown.
//
// advertiseAddr is what clients dial; it differs from address because ":8080"
// is not routable. An empty advertiseAddr uses the listener's address.
func (s *Server) Serve(network, address, advertiseAddr, serviceName string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener, advertiseAddr, serviceName, reg)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(listener net.Listener, advertiseAddr, serviceName string, reg registry.Registry) error {
	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}

	if reg != nil {
		err := reg.Register(context.Background(), serviceName, registry.ServiceInstance{
			Addr:   advertiseAddr,
			Weight: 1,
			Codec:  s.codecType.String(),
		}, 10) // TTL = 10 seconds, KeepAlive renews automatically
		if err != nil {
			listener.Close()
			return fmt.Errorf("register %s: %w", serviceName, err)
		}
	}

	// Everything Shutdown reads is set before ready is closed.
	s.listener = listener
	s.advertise = advertiseAddr
	s.registry = reg
	s.serviceName = serviceName
	close(s.ready)
	if s.shutdown.Load() {
		listener.Close()
		return nil
	}

	s.logger.Info("serving",
		zap.String("addr", listener.Addr().String()),
		zap.String("advertise", advertiseAddr),
		zap.Stringer("codec", s.codecType))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.serveConn(conn)
	}
}

// Addr blocks until the server is listening, and registered if a registry was
// given, and returns the listener address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

func (s *Server) serveConn(conn net.Conn) {
	p := transport.NewStreamPort(conn, s.codecType,
		transport.WithHeartbeat(s.heartbeat),
		transport.WithMaxFrame(s.maxFrame),
		transport.WithLogger(s.logger))

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	r := Register(s.handler, p, WithMiddleware(s.middlewares...), WithLogger(s.logger))
	s.conns[p] = r
	s.mu.Unlock()

	s.logger.Debug("connection accepted", zap.String("remote", conn.RemoteAddr().String()))

	go func() {
		<-p.Done()
		s.mu.Lock()
		_, tracked := s.conns[p]
		delete(s.conns, p)
		s.mu.Unlock()
		if tracked {
			// The peer went away: let in-flight handlers finish, then release the port.
			r.Shutdown(time.Minute)
			p.Close()
		}
	}()
}

// Shutdown performs graceful shutdown:
//  1. Deregister the service (clients stop being routed here)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Let in-flight requests finish (with timeout), then close every connection
func (s *Server) Shutdown(timeout time.Duration) error {
	var started bool
	select {
	case <-s.ready:
		started = true
	default:
	}

	if started && s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.registry.Deregister(ctx, s.serviceName, s.advertise); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
		cancel()
	}

	s.mu.Lock()
	s.shutdown.Store(true)
	conns := s.conns
	s.conns = make(map[*transport.StreamPort]*Responder)
	s.mu.Unlock()

	if started {
		s.listener.Close()
	}

	var g errgroup.Group
	for p, r := range conns {
		g.Go(func() error {
			err := r.Shutdown(timeout)
			p.Close()
			return err
		})
	}
	return g.Wait()
}
