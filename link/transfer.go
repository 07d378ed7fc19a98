package link

import (
	"sync"

	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport"
)

// transfer owns the live port. Once cancelled it emits nothing, even if a
// read or write completes afterwards.
type transfer struct {
	m    *Manager
	port transport.Port

	mu        sync.Mutex
	cancelled bool
}

func newTransfer(m *Manager, port transport.Port) *transfer {
	return &transfer{m: m, port: port}
}

func (t *transfer) run() {
	buf := make([]byte, t.m.bufSize)
	for {
		n, err := t.port.Read(buf)
		// A short read that comes with an error still carries data.
		if err == nil || n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if t.deliver(protocol.BytesReceived{Data: data, Count: n}) {
				t.m.metrics.RecordReceived(n)
			}
		}
		if err != nil {
			if !t.isCancelled() {
				logger.Sugar.Infof("[Transfer] read failed: remote=%s err=%v", t.port.Remote(), err)
			}
			t.m.connectionLost(t)
			return
		}
	}
}

// write failures are logged and dropped; they never change state.
func (t *transfer) write(data []byte) error {
	if _, err := t.port.Write(data); err != nil {
		logger.Sugar.Debugf("[Transfer] write dropped: remote=%s err=%v", t.port.Remote(), err)
		t.m.metrics.RecordDroppedWrite()
		return ErrWriteFailed
	}
	sent := make([]byte, len(data))
	copy(sent, data)
	if t.deliver(protocol.BytesSent{Data: sent}) {
		t.m.metrics.RecordSent(len(data))
	}
	return nil
}

func (t *transfer) deliver(ev protocol.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return false
	}
	t.m.notify(ev)
	return true
}

func (t *transfer) cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()

	if err := t.port.Close(); err != nil {
		logger.Sugar.Debugf("[Transfer] close port: %v", err)
	}
}

func (t *transfer) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
