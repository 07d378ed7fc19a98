// Package link keeps exactly one duplex connection to a peer alive. A
// Manager owns the connection state and at most one listener, dialer and
// transfer worker; workers report back only through the Manager's handoff
// methods, which run under a single lock.
package link

import (
	"context"
	"errors"
	"sync"

	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/monitor"
	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport"
)

const DefaultReadBufferSize = 1024

var (
	// ErrNotConnected is returned by Write when there is no live connection.
	ErrNotConnected = errors.New("link: not connected")
	// ErrWriteFailed is returned by Write when the port rejected the bytes.
	// The link stays up; a dead peer is reported by the read side.
	ErrWriteFailed = errors.New("link: write failed")
)

// Option configures a Manager.
type Option func(*Manager)

func WithService(svc protocol.Service) Option {
	return func(m *Manager) { m.svc = svc }
}

// WithLocal sets the identity announced to peers.
func WithLocal(local protocol.PeerIdentity) Option {
	return func(m *Manager) { m.local = local }
}

func WithSink(s Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithDiscovery registers the discovery process a dialer must suspend.
func WithDiscovery(d DiscoveryCanceller) Option {
	return func(m *Manager) { m.discovery = d }
}

func WithReadBufferSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.bufSize = n
		}
	}
}

func WithMetrics(mt *monitor.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

type Manager struct {
	tr        transport.Transport
	svc       protocol.Service
	local     protocol.PeerIdentity
	sink      Sink
	discovery DiscoveryCanceller
	bufSize   int
	metrics   *monitor.Metrics

	mu       sync.Mutex
	state    protocol.ConnectionState
	listener *listener
	dialer   *dialer
	transfer *transfer
	peer     protocol.PeerIdentity
	closed   bool

	wg sync.WaitGroup
}

func New(tr transport.Transport, opts ...Option) *Manager {
	m := &Manager{
		tr:      tr,
		svc:     protocol.DefaultService(),
		sink:    discardSink{},
		bufSize: DefaultReadBufferSize,
		state:   protocol.StateNone,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start drops any dial or live connection and listens for peers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		logger.Sugar.Warnf("[Manager] start after shutdown ignored")
		return
	}
	m.startLocked()
}

// Connect replaces any in-flight dial and any live connection with a new
// outbound attempt to peer. A running listener is left alone so an inbound
// peer can still win the race.
func (m *Manager) Connect(peer protocol.PeerIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		logger.Sugar.Warnf("[Manager] connect after shutdown ignored: peer=%s", peer)
		return
	}

	logger.Sugar.Infof("[Manager] connecting: peer=%s", peer)
	if m.state == protocol.StateConnecting {
		m.cancelDialerLocked()
	}
	m.cancelTransferLocked()

	m.dialer = newDialer(m, peer)
	m.spawn(m.dialer.run)
	m.setStateLocked(protocol.StateConnecting)
}

// Stop cancels every worker and returns to StateNone.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Shutdown stops the manager for good and waits for its workers to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.stopLocked()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write sends data to the connected peer. The write runs outside the lock
// so a slow peer never stalls state transitions. Transport errors are
// logged and reported as ErrWriteFailed.
func (m *Manager) Write(data []byte) error {
	m.mu.Lock()
	if m.state != protocol.StateConnected || m.transfer == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	t := m.transfer
	m.mu.Unlock()

	return t.write(data)
}

// ListenAddr is the address of the open listening endpoint, or "" when not
// listening.
func (m *Manager) ListenAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil || m.listener.ep == nil {
		return ""
	}
	return m.listener.ep.Addr()
}

func (m *Manager) State() protocol.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Peer returns the connected peer, if any.
func (m *Manager) Peer() (protocol.PeerIdentity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != protocol.StateConnected {
		return protocol.PeerIdentity{}, false
	}
	return m.peer, true
}

func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *Manager) notify(ev protocol.Event) {
	m.sink.Notify(ev)
}

func (m *Manager) setStateLocked(s protocol.ConnectionState) {
	if m.state != s {
		logger.Sugar.Debugf("[Manager] state %s -> %s", m.state, s)
	}
	m.state = s
	m.metrics.RecordState(s)
	m.notify(protocol.StateChanged{State: s})
}

func (m *Manager) startLocked() {
	m.cancelDialerLocked()
	m.cancelTransferLocked()
	if m.listener == nil {
		m.listener = newListener(m)
		m.spawn(m.listener.run)
	}
	m.setStateLocked(protocol.StateListening)
}

func (m *Manager) stopLocked() {
	m.cancelDialerLocked()
	m.cancelTransferLocked()
	m.cancelListenerLocked()
	m.setStateLocked(protocol.StateNone)
}

func (m *Manager) connectedLocked(port transport.Port, peer protocol.PeerIdentity) {
	m.cancelDialerLocked()
	m.cancelTransferLocked()
	m.cancelListenerLocked()

	m.transfer = newTransfer(m, port)
	m.peer = peer

	logger.Sugar.Infof("[Manager] connected: peer=%s", peer)
	m.notify(protocol.PeerResolved{Peer: peer})
	m.setStateLocked(protocol.StateConnected)
	// The first read must not reach the sink ahead of CONNECTED.
	m.spawn(m.transfer.run)
}

func (m *Manager) cancelDialerLocked() {
	if m.dialer != nil {
		m.dialer.cancel()
		m.dialer = nil
	}
}

func (m *Manager) cancelTransferLocked() {
	if m.transfer != nil {
		m.transfer.cancel()
		m.transfer = nil
		m.peer = protocol.PeerIdentity{}
	}
}

func (m *Manager) cancelListenerLocked() {
	if m.listener != nil {
		m.listener.cancel()
		m.listener = nil
	}
}

// accepted is the listener's handoff. A port that arrives while idle or
// already connected is closed and the listener retired.
func (m *Manager) accepted(l *listener, port transport.Port) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener != l {
		logger.Sugar.Debugf("[Manager] discarding port from stale listener: remote=%s", port.Remote())
		port.Close()
		return
	}

	switch m.state {
	case protocol.StateListening, protocol.StateConnecting:
		m.connectedLocked(port, port.Remote())
	default:
		logger.Sugar.Infof("[Manager] discarding inbound port in state %s: remote=%s", m.state, port.Remote())
		port.Close()
		m.cancelListenerLocked()
	}
}

// listenerExited clears a listener that stopped on its own, so the next
// Start can open a fresh endpoint.
func (m *Manager) listenerExited(l *listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == l {
		m.listener = nil
	}
}

func (m *Manager) dialSucceeded(d *dialer, sock transport.Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dialer != d {
		logger.Sugar.Debugf("[Manager] discarding socket from stale dialer: peer=%s", d.peer)
		sock.Close()
		return
	}
	// Deregister first so the handoff does not cancel the socket it carries.
	m.dialer = nil
	m.connectedLocked(sock, sock.Remote())
}

func (m *Manager) dialFailed(d *dialer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dialer != d {
		return
	}
	m.dialer = nil
	m.metrics.RecordDialFailure()
	m.startLocked()
	m.notify(protocol.TransientNotice{Message: protocol.NoticeConnectFailed})
}

func (m *Manager) connectionLost(t *transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A transfer the manager already dropped was cancelled on purpose.
	if m.transfer != t {
		return
	}
	logger.Sugar.Infof("[Manager] connection lost: peer=%s", m.peer)
	m.transfer = nil
	m.peer = protocol.PeerIdentity{}
	m.metrics.RecordLinkLoss()
	m.startLocked()
	m.notify(protocol.TransientNotice{Message: protocol.NoticeConnectionLost})
}
