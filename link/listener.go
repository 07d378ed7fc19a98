package link

import (
	"errors"
	"sync"

	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/transport"
)

// listener opens the service endpoint and hands the first accepted port to
// the Manager. Closing the endpoint is its only cancellation.
type listener struct {
	m *Manager

	mu        sync.Mutex
	ep        transport.Endpoint
	err       error
	cancelled bool
}

// newListener opens the endpoint right away. A failure is kept and surfaces
// when the worker runs.
func newListener(m *Manager) *listener {
	ep, err := m.tr.Listen(m.svc, m.local)
	return &listener{m: m, ep: ep, err: err}
}

func (l *listener) run() {
	if l.err != nil {
		logger.Sugar.Errorf("[Listener] failed to open endpoint: service=%s err=%v", l.m.svc, l.err)
		l.m.listenerExited(l)
		return
	}
	logger.Sugar.Infof("[Listener] waiting for peers: addr=%s service=%s", l.ep.Addr(), l.m.svc)

	// Transports retry rejected handshakes inside Accept, so one successful
	// accept always ends the worker.
	port, err := l.ep.Accept()
	if err != nil {
		// Transports retry temporary accept errors themselves, so what
		// reaches here is fatal for the endpoint. The state stays LISTENING
		// without a worker until the next Start, as with a failed open.
		if !l.isCancelled() && !errors.Is(err, transport.ErrClosed) {
			logger.Sugar.Errorf("[Listener] accept failed, endpoint retired: %v", err)
		}
		l.m.listenerExited(l)
		return
	}
	logger.Sugar.Infof("[Listener] accepted: remote=%s", port.Remote())
	l.m.accepted(l, port)
}

func (l *listener) cancel() {
	l.mu.Lock()
	l.cancelled = true
	l.mu.Unlock()

	if l.ep != nil {
		if err := l.ep.Close(); err != nil {
			logger.Sugar.Debugf("[Listener] close endpoint: %v", err)
		}
	}
}

func (l *listener) isCancelled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}
