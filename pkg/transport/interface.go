package transport

import (
	"errors"
	"io"

	"tarun-kavipurapu/linkchat/pkg/protocol"
)

var (
	// ErrClosed is returned by Accept, Connect, Read and Write once the owning
	// resource has been closed.
	ErrClosed = errors.New("transport: closed")
	// ErrServiceMismatch is returned when the remote side published a
	// different service UUID.
	ErrServiceMismatch = errors.New("transport: service uuid mismatch")
)

// Port is an open bidirectional byte stream to one peer.
// Close unblocks any blocked Read or Write with an error.
type Port interface {
	io.ReadWriteCloser
	Remote() protocol.PeerIdentity
}

// Socket is a Port that has not been connected yet. Closing it while
// Connect is blocked makes Connect return an error.
type Socket interface {
	Port
	Connect() error
}

// Endpoint is a published listening endpoint.
type Endpoint interface {
	// Accept blocks until a peer connects or the endpoint is closed.
	Accept() (Port, error)
	// Close unblocks a blocked Accept. Calling it more than once is harmless.
	Close() error
	Addr() string
}

// Transport creates endpoints and sockets bound to a service.
// local is the identity announced to the remote side.
type Transport interface {
	Name() string
	Listen(svc protocol.Service, local protocol.PeerIdentity) (Endpoint, error)
	Socket(peer protocol.PeerIdentity, svc protocol.Service, local protocol.PeerIdentity) (Socket, error)
}
