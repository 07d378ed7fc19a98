package tcp

import (
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport"
)

type acceptResult struct {
	port transport.Port
	err  error
}

func acceptAsync(ep transport.Endpoint) <-chan acceptResult {
	ch := make(chan acceptResult, 1)
	go func() {
		p, err := ep.Accept()
		ch <- acceptResult{p, err}
	}()
	return ch
}

func TestTCPTransportDialAccept(t *testing.T) {
	svc := protocol.DefaultService()
	tr := NewTCPTransport("127.0.0.1:0", time.Second)

	ep, err := tr.Listen(svc, protocol.PeerIdentity{Name: "alice"})
	require.NoError(t, err)
	defer ep.Close()
	accepted := acceptAsync(ep)

	sock, err := tr.Socket(protocol.PeerIdentity{Address: ep.Addr()}, svc, protocol.PeerIdentity{Name: "bob"})
	require.NoError(t, err)
	defer sock.Close()
	require.NoError(t, sock.Connect())
	assert.Equal(t, "alice", sock.Remote().Name)
	assert.Equal(t, ep.Addr(), sock.Remote().Address)

	var res acceptResult
	select {
	case res = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept timed out")
	}
	require.NoError(t, res.err)
	defer res.port.Close()
	assert.Equal(t, "bob", res.port.Remote().Name)

	_, err = sock.Write([]byte("hi"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(res.port, buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf))
}

func TestTCPEndpointCloseUnblocksAccept(t *testing.T) {
	tr := NewTCPTransport("127.0.0.1:0", time.Second)
	ep, err := tr.Listen(protocol.DefaultService(), protocol.PeerIdentity{})
	require.NoError(t, err)
	accepted := acceptAsync(ep)

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())

	select {
	case res := <-accepted:
		assert.True(t, errors.Is(res.err, transport.ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("close did not unblock accept")
	}
}

func TestTCPSocketClosedBeforeConnect(t *testing.T) {
	tr := NewTCPTransport("127.0.0.1:0", time.Second)
	ep, err := tr.Listen(protocol.DefaultService(), protocol.PeerIdentity{})
	require.NoError(t, err)
	defer ep.Close()

	sock, err := tr.Socket(protocol.PeerIdentity{Address: ep.Addr()}, protocol.DefaultService(), protocol.PeerIdentity{})
	require.NoError(t, err)
	require.NoError(t, sock.Close())
	require.Error(t, sock.Connect())

	_, err = sock.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, transport.ErrClosed))
}

func TestTCPServiceMismatchFailsDial(t *testing.T) {
	tr := NewTCPTransport("127.0.0.1:0", time.Second)
	ep, err := tr.Listen(protocol.DefaultService(), protocol.PeerIdentity{})
	require.NoError(t, err)
	defer ep.Close()
	go ep.Accept()

	other := protocol.Service{Name: "other", UUID: uuid.New()}
	sock, err := tr.Socket(protocol.PeerIdentity{Address: ep.Addr()}, other, protocol.PeerIdentity{})
	require.NoError(t, err)
	defer sock.Close()
	require.Error(t, sock.Connect())
}

func TestTCPSocketEmptyAddress(t *testing.T) {
	tr := NewTCPTransport("", 0)
	_, err := tr.Socket(protocol.PeerIdentity{}, protocol.DefaultService(), protocol.PeerIdentity{})
	require.Error(t, err)
}

func TestRegisteredUnderName(t *testing.T) {
	tr, err := transport.New(Name, transport.Options{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, Name, tr.Name())
}

func TestTCPSilentClientDoesNotBlockAccept(t *testing.T) {
	svc := protocol.DefaultService()
	tr := NewTCPTransport("127.0.0.1:0", time.Second)
	ep, err := tr.Listen(svc, protocol.PeerIdentity{Name: "alice"})
	require.NoError(t, err)

	silent, err := net.Dial("tcp", ep.Addr())
	require.NoError(t, err)
	defer silent.Close()
	accepted := acceptAsync(ep)

	sock, err := tr.Socket(protocol.PeerIdentity{Address: ep.Addr()}, svc, protocol.PeerIdentity{Name: "bob"})
	require.NoError(t, err)
	defer sock.Close()
	require.NoError(t, sock.Connect())

	select {
	case res := <-accepted:
		require.NoError(t, res.err)
		defer res.port.Close()
		assert.Equal(t, "bob", res.port.Remote().Name)
	case <-time.After(transport.HelloTimeout / 2):
		t.Fatal("silent client held up accept")
	}

	// Close drops the conn still waiting for its hello.
	require.NoError(t, ep.Close())
	require.NoError(t, silent.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = silent.Read(make([]byte, 1))
	require.Error(t, err)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "pending conn left open: %v", err)
}

// flakyListener fails the first few accepts as if out of descriptors.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", syscall.EMFILE)}
	}
	return l.Listener.Accept()
}

func TestTCPAcceptRetriesTemporaryErrors(t *testing.T) {
	svc := protocol.DefaultService()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fl := &flakyListener{Listener: l}
	fl.failures.Store(3)

	ep := newEndpoint(fl, svc, protocol.PeerIdentity{Name: "alice"})
	defer ep.Close()
	accepted := acceptAsync(ep)

	tr := NewTCPTransport("127.0.0.1:0", time.Second)
	sock, err := tr.Socket(protocol.PeerIdentity{Address: ep.Addr()}, svc, protocol.PeerIdentity{Name: "bob"})
	require.NoError(t, err)
	defer sock.Close()
	require.NoError(t, sock.Connect())

	select {
	case res := <-accepted:
		require.NoError(t, res.err)
		res.port.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not recover")
	}
}
