package discovery

import (
	"context"
	"sort"
	"sync"

	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/protocol"
)

// BrowseFunc yields raw service entries until ctx is done.
type BrowseFunc func(ctx context.Context) (<-chan *ServiceInfo, error)

// Scanner runs at most one browse at a time and remembers the peers it has
// seen. It is the discovery mode a dialer suspends before connecting.
type Scanner struct {
	svc    protocol.Service
	browse BrowseFunc

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
	seen   map[string]protocol.PeerIdentity
}

// NewScanner browses mDNS for svc.
func NewScanner(svc protocol.Service) *Scanner {
	return NewScannerWith(svc, func(ctx context.Context) (<-chan *ServiceInfo, error) {
		r, err := NewResolver()
		if err != nil {
			return nil, err
		}
		return r.Browse(ctx)
	})
}

func NewScannerWith(svc protocol.Service, browse BrowseFunc) *Scanner {
	return &Scanner{svc: svc, browse: browse, seen: make(map[string]protocol.PeerIdentity)}
}

// Start replaces any running scan with a new one. The returned channel
// yields each matching peer once and is closed when the scan ends.
func (s *Scanner) Start(ctx context.Context) (<-chan protocol.PeerIdentity, error) {
	ctx, cancel := context.WithCancel(ctx)
	entries, err := s.browse(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	out := make(chan protocol.PeerIdentity, 10)
	go func() {
		defer close(out)
		defer s.finish(gen, cancel)

		reported := make(map[string]bool)
		for info := range entries {
			peer, ok := info.Peer(s.svc)
			if !ok || reported[peer.Address] {
				continue
			}
			reported[peer.Address] = true

			s.mu.Lock()
			s.seen[peer.Address] = peer
			s.mu.Unlock()

			select {
			case out <- peer:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Scanner) finish(gen uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cancel = nil
	}
}

// Cancel stops the running scan, if any.
func (s *Scanner) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// CancelDiscovery suspends scanning so a dial has the adapter to itself.
func (s *Scanner) CancelDiscovery() {
	if s.Discovering() {
		logger.Sugar.Infof("[Discovery] suspending scan for outbound connection")
	}
	s.Cancel()
}

func (s *Scanner) Discovering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Peers returns every peer seen so far, sorted by display name.
func (s *Scanner) Peers() []protocol.PeerIdentity {
	s.mu.Lock()
	out := make([]protocol.PeerIdentity, 0, len(s.seen))
	for _, p := range s.seen {
		out = append(out, p)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName() == out[j].DisplayName() {
			return out[i].Address < out[j].Address
		}
		return out[i].DisplayName() < out[j].DisplayName()
	})
	return out
}
