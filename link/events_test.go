package link_test

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/linkchat/link"
	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport/tcp"
)

func TestQueuePreservesOrder(t *testing.T) {
	defer leaktest.Check(t)()

	q := link.NewQueue()
	for i := 0; i < 100; i++ {
		q.Notify(protocol.BytesReceived{Count: i})
	}
	for i := 0; i < 100; i++ {
		select {
		case ev := <-q.Events():
			assert.Equal(t, i, ev.(protocol.BytesReceived).Count)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}

	q.Close()
	q.Close()
	q.Notify(protocol.StateChanged{})
	for range q.Events() {
	}
}

// next returns the first event for which match is true, skipping others.
func next(t *testing.T, q *link.Queue, match func(protocol.Event) bool) protocol.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-q.Events():
			require.True(t, ok, "queue closed")
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func isState(s protocol.ConnectionState) func(protocol.Event) bool {
	return func(ev protocol.Event) bool {
		sc, ok := ev.(protocol.StateChanged)
		return ok && sc.State == s
	}
}

func TestRoundTripOverTCP(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	qa, qb := link.NewQueue(), link.NewQueue()
	defer qa.Close()
	defer qb.Close()

	a := link.New(tcp.NewTCPTransport("127.0.0.1:0", time.Second),
		link.WithLocal(protocol.PeerIdentity{Name: "alice"}), link.WithSink(qa))
	b := link.New(tcp.NewTCPTransport("127.0.0.1:0", time.Second),
		link.WithLocal(protocol.PeerIdentity{Name: "bob"}), link.WithSink(qb))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		require.NoError(t, a.Shutdown(ctx))
		require.NoError(t, b.Shutdown(ctx))
	}()

	a.Start()
	next(t, qa, isState(protocol.StateListening))
	addr := a.ListenAddr()
	require.NotEmpty(t, addr)

	b.Connect(protocol.PeerIdentity{Address: addr})
	next(t, qb, isState(protocol.StateConnecting))

	resolved := next(t, qb, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.PeerResolved)
		return ok
	}).(protocol.PeerResolved)
	assert.Equal(t, "alice", resolved.Peer.Name)
	next(t, qb, isState(protocol.StateConnected))
	next(t, qa, isState(protocol.StateConnected))

	require.NoError(t, b.Write([]byte{0x68, 0x69}))
	got := next(t, qa, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.BytesReceived)
		return ok
	}).(protocol.BytesReceived)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, []byte{0x68, 0x69}, got.Data)
}
