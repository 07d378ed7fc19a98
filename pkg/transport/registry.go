package transport

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnknownTransport is returned by New for names nobody registered.
var ErrUnknownTransport = errors.New("transport: unknown transport")

// Options are the knobs shared by every network transport.
type Options struct {
	ListenAddr  string
	DialTimeout time.Duration
}

// Factory builds a Transport from Options.
type Factory func(opts Options) (Transport, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a transport available under name. Transport packages call
// it from init.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New builds the transport registered under name.
func New(name string, opts Options) (Transport, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
	return f(opts)
}

// Names lists registered transports in sorted order.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
