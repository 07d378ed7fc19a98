// Package memory is an in-process transport over net.Pipe. Several
// Transports attached to one Network can reach each other by address, which
// lets a single test process play both peers.
package memory

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"

	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport"
)

const Name = "memory"

// ErrRefused is returned when nobody listens on the dialed address.
var ErrRefused = errors.New("memory: connection refused")

// Network is the shared medium.
type Network struct {
	mu         sync.Mutex
	endpoints  map[string]*endpoint
	blackholes map[string]bool
	listenErr  map[string]error
	conns      map[string][]net.Conn // address -> live pipe ends owned by it
	trace      []string
}

func NewNetwork() *Network {
	return &Network{
		endpoints:  make(map[string]*endpoint),
		blackholes: make(map[string]bool),
		listenErr:  make(map[string]error),
		conns:      make(map[string][]net.Conn),
	}
}

// Transport returns a transport whose endpoint is published at addr.
func (n *Network) Transport(addr string) *Transport {
	return &Transport{network: n, addr: addr}
}

// Blackhole makes Connect to addr block until the socket is closed.
func (n *Network) Blackhole(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blackholes[addr] = true
}

// FailListen makes the next Listen on addr fail with err.
func (n *Network) FailListen(addr string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listenErr[addr] = err
}

// Sever closes every live pipe end owned by addr, failing blocked reads on
// both sides of those links.
func (n *Network) Sever(addr string) error {
	n.mu.Lock()
	conns := n.conns[addr]
	delete(n.conns, addr)
	n.mu.Unlock()

	var err error
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Listening reports whether an endpoint is currently published at addr.
func (n *Network) Listening(addr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.endpoints[addr]
	return ok
}

// Trace returns the ordered log of dial and close operations.
func (n *Network) Trace() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.trace))
	copy(out, n.trace)
	return out
}

func (n *Network) record(format string, args ...any) {
	n.mu.Lock()
	n.trace = append(n.trace, fmt.Sprintf(format, args...))
	n.mu.Unlock()
}

func (n *Network) track(addr string, c net.Conn) {
	n.mu.Lock()
	n.conns[addr] = append(n.conns[addr], c)
	n.mu.Unlock()
}

// Transport implements transport.Transport on a Network.
type Transport struct {
	network *Network
	addr    string
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Name() string {
	return Name
}

// Addr is the address peers dial to reach this transport's endpoint.
func (t *Transport) Addr() string {
	return t.addr
}

func (t *Transport) Listen(svc protocol.Service, local protocol.PeerIdentity) (transport.Endpoint, error) {
	n := t.network
	n.mu.Lock()
	defer n.mu.Unlock()

	if err, ok := n.listenErr[t.addr]; ok {
		delete(n.listenErr, t.addr)
		return nil, err
	}
	if _, busy := n.endpoints[t.addr]; busy {
		return nil, fmt.Errorf("memory: address %s already in use", t.addr)
	}
	ep := &endpoint{
		network:  n,
		addr:     t.addr,
		svc:      svc,
		local:    local,
		incoming: make(chan inbound),
		done:     make(chan struct{}),
	}
	n.endpoints[t.addr] = ep
	return ep, nil
}

func (t *Transport) Socket(peer protocol.PeerIdentity, svc protocol.Service, local protocol.PeerIdentity) (transport.Socket, error) {
	if peer.Address == "" {
		return nil, errors.New("memory: empty peer address")
	}
	return &socket{
		transport: t,
		peer:      peer,
		svc:       svc,
		local:     local,
		done:      make(chan struct{}),
	}, nil
}

type inbound struct {
	conn net.Conn
	from string
}

type endpoint struct {
	network  *Network
	addr     string
	svc      protocol.Service
	local    protocol.PeerIdentity
	incoming chan inbound
	done     chan struct{}

	mu      sync.Mutex
	pending net.Conn
	closed  bool
}

func (e *endpoint) Accept() (transport.Port, error) {
	for {
		var in inbound
		select {
		case in = <-e.incoming:
		case <-e.done:
			return nil, transport.ErrClosed
		}

		conn := in.conn
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			conn.Close()
			return nil, transport.ErrClosed
		}
		e.pending = conn
		e.mu.Unlock()

		name, err := transport.ExchangeHello(conn, e.svc, e.local, false)

		e.mu.Lock()
		e.pending = nil
		closed := e.closed
		e.mu.Unlock()

		if err != nil {
			conn.Close()
			if closed {
				return nil, transport.ErrClosed
			}
			continue
		}
		e.network.track(e.addr, conn)
		return &port{conn: conn, remote: protocol.PeerIdentity{Address: in.from, Name: name}}, nil
	}
}

func (e *endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pending := e.pending
	e.mu.Unlock()

	close(e.done)
	e.network.mu.Lock()
	if e.network.endpoints[e.addr] == e {
		delete(e.network.endpoints, e.addr)
	}
	e.network.mu.Unlock()
	e.network.record("close-endpoint %s", e.addr)

	if pending != nil {
		return pending.Close()
	}
	return nil
}

func (e *endpoint) Addr() string {
	return e.addr
}

type port struct {
	conn   net.Conn
	remote protocol.PeerIdentity
}

func (p *port) Read(b []byte) (int, error)  { return p.conn.Read(b) }
func (p *port) Write(b []byte) (int, error) { return p.conn.Write(b) }
func (p *port) Close() error                { return p.conn.Close() }

func (p *port) Remote() protocol.PeerIdentity {
	return p.remote
}

type socket struct {
	transport *Transport
	peer      protocol.PeerIdentity
	svc       protocol.Service
	local     protocol.PeerIdentity
	done      chan struct{}

	mu     sync.Mutex
	conn   net.Conn
	remote protocol.PeerIdentity
	closed bool
}

func (s *socket) Connect() error {
	n := s.transport.network
	n.record("dial %s", s.peer.Address)

	n.mu.Lock()
	blackhole := n.blackholes[s.peer.Address]
	ep := n.endpoints[s.peer.Address]
	n.mu.Unlock()

	if blackhole {
		<-s.done
		return transport.ErrClosed
	}
	if ep == nil {
		return fmt.Errorf("%w: %s", ErrRefused, s.peer.Address)
	}

	local, remote := net.Pipe()
	select {
	case ep.incoming <- inbound{conn: remote, from: s.transport.addr}:
	case <-ep.done:
		local.Close()
		remote.Close()
		return fmt.Errorf("%w: %s", ErrRefused, s.peer.Address)
	case <-s.done:
		local.Close()
		remote.Close()
		return transport.ErrClosed
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		local.Close()
		return transport.ErrClosed
	}
	s.conn = local
	s.mu.Unlock()

	name, err := transport.ExchangeHello(local, s.svc, s.local, true)
	if err != nil {
		local.Close()
		return fmt.Errorf("hello with %s: %w", s.peer.Address, err)
	}
	n.track(s.transport.addr, local)

	r := s.peer
	if name != "" {
		r.Name = name
	}
	s.mu.Lock()
	s.remote = r
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

	close(s.done)
	s.transport.network.record("close-socket %s", s.peer.Address)
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
