package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/linkchat/link"
	"tarun-kavipurapu/linkchat/pkg/discovery"
	"tarun-kavipurapu/linkchat/pkg/monitor"
	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport/memory"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRenderPlain(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, false)

	r.render(protocol.StateChanged{State: protocol.StateConnecting})
	r.render(protocol.PeerResolved{Peer: protocol.PeerIdentity{Address: "10.0.0.2:7878", Name: "alice"}})
	r.render(protocol.BytesReceived{Data: []byte("hi\n"), Count: 3})
	r.render(protocol.BytesReceived{Data: []byte{}, Count: 0})
	r.render(protocol.BytesSent{Data: []byte("yo\n")})
	r.render(protocol.TransientNotice{Message: protocol.NoticeConnectFailed})

	assert.Equal(t, "* connecting\n* connected to alice\nalice: hi\nme: yo\n! Unable to connect device\n", out.String())
}

func TestRenderColors(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, true)
	r.render(protocol.TransientNotice{Message: "x"})
	assert.Equal(t, Red+"! x"+Reset+"\n", out.String())
}

func newShell(t *testing.T, n *memory.Network, addr string) (*shell, *syncBuffer, *link.Manager) {
	t.Helper()
	m := link.New(n.Transport(addr), link.WithLocal(protocol.PeerIdentity{Address: addr, Name: addr + "-dev"}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))
	})
	out := &syncBuffer{}
	return &shell{
		m:           m,
		metrics:     monitor.New(),
		out:         out,
		scanTimeout: time.Second,
		ctx:         context.Background(),
	}, out, m
}

func TestShellConnectAndSend(t *testing.T) {
	n := memory.NewNetwork()
	a, _, ma := newShell(t, n, "a")
	b, outB, mb := newShell(t, n, "b")

	a.execute("listen")
	b.execute("connect a")
	require.Eventually(t, func() bool {
		return ma.State() == protocol.StateConnected && mb.State() == protocol.StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	b.execute("status")
	assert.Contains(t, outB.String(), "State:     connected")
	assert.Contains(t, outB.String(), "Peer:      a-dev (a)")

	b.execute("send hello there")
	b.execute("plain line")

	b.execute("stop")
	assert.Equal(t, protocol.StateNone, mb.State())
	b.execute("again")
	assert.Contains(t, outB.String(), "Not connected.")
}

func TestShellExitRunsHook(t *testing.T) {
	n := memory.NewNetwork()
	s, out, m := newShell(t, n, "a")
	var exited bool
	s.exit = func() { exited = true }

	s.execute("listen")
	s.execute("exit")
	assert.True(t, exited)
	assert.Equal(t, protocol.StateNone, m.State())
	assert.Contains(t, out.String(), "Stopping link...")
}

func TestShellDiscoveryCommands(t *testing.T) {
	n := memory.NewNetwork()
	s, out, _ := newShell(t, n, "a")

	s.execute("peers")
	s.execute("scan")
	assert.Contains(t, out.String(), "Discovery is disabled.")

	svc := protocol.DefaultService()
	s.scanner = discovery.NewScannerWith(svc, func(ctx context.Context) (<-chan *discovery.ServiceInfo, error) {
		feed := make(chan *discovery.ServiceInfo, 1)
		feed <- &discovery.ServiceInfo{
			InstanceName: "bob",
			Port:         7878,
			IPs:          []string{"10.0.0.9"},
			Meta:         map[string]string{discovery.MetaUUID: svc.UUID.String(), discovery.MetaName: "bob"},
		}
		close(feed)
		return feed, nil
	})

	s.execute("scan")
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Scan finished."))
	}, time.Second, 5*time.Millisecond)

	s.execute("peers")
	assert.Contains(t, out.String(), "1) bob")
	assert.Equal(t, protocol.PeerIdentity{Address: "10.0.0.9:7878", Name: "bob"}, s.resolve("1"))
	assert.Equal(t, protocol.PeerIdentity{Address: "10.0.0.9:7878", Name: "bob"}, s.resolve("bob"))
	assert.Equal(t, protocol.PeerIdentity{Address: "elsewhere"}, s.resolve("elsewhere"))
}

func TestListenPort(t *testing.T) {
	p, err := listenPort("[::]:7878")
	require.NoError(t, err)
	assert.Equal(t, 7878, p)

	_, err = listenPort("")
	require.Error(t, err)
}
