package link

import (
	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport"
)

// dialer runs one outbound attempt. Closing the socket is its only
// cancellation.
type dialer struct {
	m    *Manager
	peer protocol.PeerIdentity
	sock transport.Socket
	err  error
}

func newDialer(m *Manager, peer protocol.PeerIdentity) *dialer {
	sock, err := m.tr.Socket(peer, m.svc, m.local)
	return &dialer{m: m, peer: peer, sock: sock, err: err}
}

func (d *dialer) run() {
	if d.m.discovery != nil {
		d.m.discovery.CancelDiscovery()
	}

	err := d.err
	if err == nil {
		err = d.sock.Connect()
	}
	if err != nil {
		logger.Sugar.Warnf("[Dialer] connect failed: peer=%s err=%v", d.peer, err)
		if d.sock != nil {
			d.sock.Close()
		}
		d.m.dialFailed(d)
		return
	}

	logger.Sugar.Infof("[Dialer] connected: peer=%s", d.sock.Remote())
	d.m.dialSucceeded(d, d.sock)
}

func (d *dialer) cancel() {
	if d.sock != nil {
		if err := d.sock.Close(); err != nil {
			logger.Sugar.Debugf("[Dialer] close socket: %v", err)
		}
	}
}
