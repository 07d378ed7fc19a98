package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport"
)

const (
	Name               = "tcp"
	defaultListenAddr  = ":0"
	defaultDialTimeout = 10 * time.Second
	maxAcceptDelay     = time.Second
)

func init() {
	transport.Register(Name, func(opts transport.Options) (transport.Transport, error) {
		return NewTCPTransport(opts.ListenAddr, opts.DialTimeout), nil
	})
}

// TCPPort implements transport.Port over a connected net.Conn
type TCPPort struct {
	conn   net.Conn
	remote protocol.PeerIdentity
}

func NewTCPPort(conn net.Conn, remote protocol.PeerIdentity) *TCPPort {
	return &TCPPort{conn: conn, remote: remote}
}

func (p *TCPPort) Read(b []byte) (int, error)  { return p.conn.Read(b) }
func (p *TCPPort) Write(b []byte) (int, error) { return p.conn.Write(b) }
func (p *TCPPort) Close() error                { return p.conn.Close() }

func (p *TCPPort) Remote() protocol.PeerIdentity {
	return p.remote
}

// TCPTransport implements transport.Transport
type TCPTransport struct {
	listenAddr  string
	dialTimeout time.Duration
}

var _ transport.Transport = (*TCPTransport)(nil)

func NewTCPTransport(listenAddr string, dialTimeout time.Duration) *TCPTransport {
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &TCPTransport{
		listenAddr:  listenAddr,
		dialTimeout: dialTimeout,
	}
}

func (t *TCPTransport) Name() string {
	return Name
}

func (t *TCPTransport) Listen(svc protocol.Service, local protocol.PeerIdentity) (transport.Endpoint, error) {
	l, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", t.listenAddr, err)
	}
	logger.Sugar.Debugf("[TCPTransport] listening: addr=%s service=%s", l.Addr(), svc)
	return newEndpoint(l, svc, local), nil
}

func (t *TCPTransport) Socket(peer protocol.PeerIdentity, svc protocol.Service, local protocol.PeerIdentity) (transport.Socket, error) {
	if peer.Address == "" {
		return nil, errors.New("tcp: empty peer address")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &socket{
		peer:    peer,
		svc:     svc,
		local:   local,
		timeout: t.dialTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// endpoint accepts connections in the background and runs the server side
// of the hello on each one, so a silent client only holds up itself.
type endpoint struct {
	listener net.Listener
	svc      protocol.Service
	local    protocol.PeerIdentity

	ready chan *TCPPort
	errc  chan error
	done  chan struct{}

	mu      sync.Mutex
	pending map[net.Conn]struct{} // conns still in the hello exchange
	closed  bool
}

func newEndpoint(l net.Listener, svc protocol.Service, local protocol.PeerIdentity) *endpoint {
	e := &endpoint{
		listener: l,
		svc:      svc,
		local:    local,
		ready:    make(chan *TCPPort),
		errc:     make(chan error, 1),
		done:     make(chan struct{}),
		pending:  make(map[net.Conn]struct{}),
	}
	go e.acceptLoop()
	return e
}

// acceptLoop backs off on temporary errors the way net/http.Server does.
func (e *endpoint) acceptLoop() {
	var delay time.Duration
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.isClosed() {
				return
			}
			if isTemporary(err) {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}
				logger.Sugar.Warnf("[TCPTransport] accept error: %v; retrying in %v", err, delay)
				select {
				case <-time.After(delay):
					continue
				case <-e.done:
					return
				}
			}
			e.errc <- err
			return
		}
		delay = 0

		if !e.track(conn) {
			conn.Close()
			return
		}
		go e.handshake(conn)
	}
}

func (e *endpoint) handshake(conn net.Conn) {
	name, err := transport.ExchangeHello(conn, e.svc, e.local, false)
	closed := e.untrack(conn)
	if err != nil {
		conn.Close()
		if !closed {
			logger.Sugar.Warnf("[TCPTransport] rejected inbound: remote=%s err=%v", conn.RemoteAddr(), err)
		}
		return
	}

	remote := protocol.PeerIdentity{Address: conn.RemoteAddr().String(), Name: name}
	select {
	case e.ready <- NewTCPPort(conn, remote):
	case <-e.done:
		conn.Close()
	}
}

func (e *endpoint) track(conn net.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.pending[conn] = struct{}{}
	return true
}

func (e *endpoint) untrack(conn net.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, conn)
	return e.closed
}

func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

func (e *endpoint) Accept() (transport.Port, error) {
	select {
	case p := <-e.ready:
		if e.isClosed() {
			p.Close()
			return nil, transport.ErrClosed
		}
		return p, nil
	case err := <-e.errc:
		return nil, err
	case <-e.done:
		return nil, transport.ErrClosed
	}
}

func (e *endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pending := make([]net.Conn, 0, len(e.pending))
	for c := range e.pending {
		pending = append(pending, c)
	}
	e.mu.Unlock()

	close(e.done)
	// Closing a pending conn fails its hello, which ends that goroutine.
	for _, c := range pending {
		c.Close()
	}
	return e.listener.Close()
}

func (e *endpoint) Addr() string {
	return e.listener.Addr().String()
}

// socket is an outbound connection that can be abandoned mid-dial.
type socket struct {
	peer    protocol.PeerIdentity
	svc     protocol.Service
	local   protocol.PeerIdentity
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	conn   net.Conn
	remote protocol.PeerIdentity
	closed bool
}

func (s *socket) Connect() error {
	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(s.ctx, "tcp", s.peer.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.peer.Address, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return transport.ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	name, err := transport.ExchangeHello(conn, s.svc, s.local, true)
	if err != nil {
		conn.Close()
		return fmt.Errorf("hello with %s: %w", s.peer.Address, err)
	}

	remote := s.peer
	if name != "" {
		remote.Name = name
	}
	s.mu.Lock()
	s.remote = remote
	s.mu.Unlock()
	return nil
}

func (s *socket) connected() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return nil, transport.ErrClosed
	}
	return s.conn, nil
}

func (s *socket) Read(b []byte) (int, error) {
	conn, err := s.connected()
	if err != nil {
		return 0, err
	}
	return conn.Read(b)
}

func (s *socket) Write(b []byte) (int, error) {
	conn, err := s.connected()
	if err != nil {
		return 0, err
	}
	return conn.Write(b)
}

func (s *socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *socket) Remote() protocol.PeerIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote.Address == "" {
		return s.peer
	}
	return s.remote
}
