package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport"
)

const (
	Name = "ws"

	// HeaderDeviceName carries each side's display name during the upgrade.
	HeaderDeviceName = "X-Link-Device"

	defaultListenAddr  = ":0"
	defaultDialTimeout = 10 * time.Second
)

func init() {
	transport.Register(Name, func(opts transport.Options) (transport.Transport, error) {
		return NewWSTransport(opts.ListenAddr, opts.DialTimeout), nil
	})
}

// servicePath is where a service is published. A dialer asking for another
// UUID gets a 404 and fails its handshake.
func servicePath(svc protocol.Service) string {
	return "/link/" + svc.UUID.String()
}

// WSTransport implements transport.Transport over WebSocket binary messages.
type WSTransport struct {
	listenAddr  string
	dialTimeout time.Duration
}

var _ transport.Transport = (*WSTransport)(nil)

func NewWSTransport(listenAddr string, dialTimeout time.Duration) *WSTransport {
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &WSTransport{listenAddr: listenAddr, dialTimeout: dialTimeout}
}

func (t *WSTransport) Name() string {
	return Name
}

func (t *WSTransport) Listen(svc protocol.Service, local protocol.PeerIdentity) (transport.Endpoint, error) {
	l, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", t.listenAddr, err)
	}

	e := &endpoint{
		listener: l,
		accepted: make(chan *Port),
		done:     make(chan struct{}),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(servicePath(svc), func(w http.ResponseWriter, r *http.Request) {
		header := http.Header{}
		header.Set(HeaderDeviceName, local.Name)
		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			logger.Sugar.Warnf("[WSTransport] upgrade failed: remote=%s err=%v", r.RemoteAddr, err)
			return
		}
		remote := protocol.PeerIdentity{Address: r.RemoteAddr, Name: r.Header.Get(HeaderDeviceName)}
		p := newPort(conn, remote)
		select {
		case e.accepted <- p:
		case <-e.done:
			p.Close()
		}
	})
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: transport.HelloTimeout}

	go func() {
		if err := e.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Errorf("[WSTransport] serve error: addr=%s err=%v", l.Addr(), err)
		}
	}()
	return e, nil
}

func (t *WSTransport) Socket(peer protocol.PeerIdentity, svc protocol.Service, local protocol.PeerIdentity) (transport.Socket, error) {
	if peer.Address == "" {
		return nil, errors.New("ws: empty peer address")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &socket{
		url:    fmt.Sprintf("ws://%s%s", peer.Address, servicePath(svc)),
		peer:   peer,
		local:  local,
		dialer: websocket.Dialer{HandshakeTimeout: t.dialTimeout},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

type endpoint struct {
	listener net.Listener
	server   *http.Server
	accepted chan *Port
	done     chan struct{}
	once     sync.Once
}

func (e *endpoint) Accept() (transport.Port, error) {
	select {
	case p := <-e.accepted:
		return p, nil
	case <-e.done:
		return nil, transport.ErrClosed
	}
}

func (e *endpoint) Close() error {
	var err error
	e.once.Do(func() {
		close(e.done)
		err = e.server.Close()
	})
	return err
}

func (e *endpoint) Addr() string {
	return e.listener.Addr().String()
}

// Port adapts a message-oriented websocket.Conn to a byte stream.
type Port struct {
	conn   *websocket.Conn
	remote protocol.PeerIdentity

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex
}

func newPort(conn *websocket.Conn, remote protocol.PeerIdentity) *Port {
	return &Port{conn: conn, remote: remote}
}

func (p *Port) Read(b []byte) (int, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	for {
		if p.reader == nil {
			_, r, err := p.conn.NextReader()
			if err != nil {
				return 0, err
			}
			p.reader = r
		}
		n, err := p.reader.Read(b)
		if errors.Is(err, io.EOF) {
			p.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (p *Port) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *Port) Close() error {
	return p.conn.Close()
}

func (p *Port) Remote() protocol.PeerIdentity {
	return p.remote
}

type socket struct {
	url    string
	peer   protocol.PeerIdentity
	local  protocol.PeerIdentity
	dialer websocket.Dialer
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	port   *Port
	closed bool
}

func (s *socket) Connect() error {
	header := http.Header{}
	header.Set(HeaderDeviceName, s.local.Name)

	conn, resp, err := s.dialer.DialContext(s.ctx, s.url, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return fmt.Errorf("dial %s: upgrade failed (%d): %w", s.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	remote := s.peer
	if name := resp.Header.Get(HeaderDeviceName); name != "" {
		remote.Name = name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return transport.ErrClosed
	}
	s.port = newPort(conn, remote)
	return nil
}

func (s *socket) connected() (*Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.port == nil {
		return nil, transport.ErrClosed
	}
	return s.port, nil
}

func (s *socket) Read(b []byte) (int, error) {
	p, err := s.connected()
	if err != nil {
		return 0, err
	}
	return p.Read(b)
}

func (s *socket) Write(b []byte) (int, error) {
	p, err := s.connected()
	if err != nil {
		return 0, err
	}
	return p.Write(b)
}

func (s *socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	p := s.port
	s.mu.Unlock()

	s.cancel()
	var err error
	if p != nil {
		err = multierr.Append(err, p.Close())
	}
	return err
}

func (s *socket) Remote() protocol.PeerIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return s.peer
	}
	return s.port.remote
}
