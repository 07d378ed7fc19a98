package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tarun-kavipurapu/linkchat/pkg/protocol"
)

func TestDiscovery(t *testing.T) {
	// Skip in CI/docker environments where multicast might not work
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	svc := protocol.DefaultService()
	advertiser := NewAdvertiser()
	port := 12345
	err := advertiser.Advertise(svc, protocol.PeerIdentity{Name: "test-device"}, "tcp", port)
	require.NoError(t, err, "Failed to start advertiser")
	defer advertiser.Stop()

	// Give it a moment to announce
	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	scanner := NewScanner(svc)
	ch, err := scanner.Start(ctx)
	require.NoError(t, err, "Failed to browse")

	found := false
	for peer := range ch {
		if peer.Name == "test-device" {
			found = true
			t.Logf("Found peer: %s", peer)
			break
		}
	}
	assert.True(t, found, "Failed to discover the test service")
}

func entry(id, name, ip string, port int) *ServiceInfo {
	return &ServiceInfo{
		InstanceName: name + "-instance",
		Port:         port,
		IPs:          []string{ip},
		Meta:         map[string]string{MetaUUID: id, MetaName: name, MetaTransport: "tcp"},
	}
}

func TestServiceInfoPeer(t *testing.T) {
	svc := protocol.DefaultService()

	peer, ok := entry(svc.UUID.String(), "alice", "10.0.0.2", 7878).Peer(svc)
	require.True(t, ok)
	assert.Equal(t, protocol.PeerIdentity{Address: "10.0.0.2:7878", Name: "alice"}, peer)

	_, ok = entry(uuid.NewString(), "mallory", "10.0.0.3", 7878).Peer(svc)
	assert.False(t, ok)

	noName := entry(svc.UUID.String(), "", "10.0.0.4", 1)
	peer, ok = noName.Peer(svc)
	require.True(t, ok)
	assert.Equal(t, "-instance", peer.Name)

	noIP := entry(svc.UUID.String(), "bob", "", 1)
	noIP.IPs = nil
	_, ok = noIP.Peer(svc)
	assert.False(t, ok)
}

func TestScannerFiltersAndDedups(t *testing.T) {
	defer leaktest.Check(t)()

	svc := protocol.DefaultService()
	feed := make(chan *ServiceInfo, 4)
	feed <- entry(svc.UUID.String(), "bob", "10.0.0.5", 7878)
	feed <- entry(uuid.NewString(), "mallory", "10.0.0.6", 7878)
	feed <- entry(svc.UUID.String(), "bob", "10.0.0.5", 7878)
	feed <- entry(svc.UUID.String(), "alice", "10.0.0.7", 7878)
	close(feed)

	s := NewScannerWith(svc, func(ctx context.Context) (<-chan *ServiceInfo, error) {
		return feed, nil
	})
	ch, err := s.Start(context.Background())
	require.NoError(t, err)

	var got []string
	for p := range ch {
		got = append(got, p.Name)
	}
	assert.Equal(t, []string{"bob", "alice"}, got)
	assert.False(t, s.Discovering())

	peers := s.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "alice", peers[0].Name)
}

func TestScannerCancelDiscovery(t *testing.T) {
	defer leaktest.Check(t)()

	s := NewScannerWith(protocol.DefaultService(), func(ctx context.Context) (<-chan *ServiceInfo, error) {
		out := make(chan *ServiceInfo)
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	})

	ch, err := s.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Discovering())

	s.CancelDiscovery()
	assert.False(t, s.Discovering())
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("scan did not end after cancel")
	}
	s.CancelDiscovery()
}
