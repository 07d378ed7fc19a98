package link

import (
	"sync"

	"tarun-kavipurapu/linkchat/pkg/protocol"
)

// Sink receives the Manager's asynchronous notifications. Notify is called
// with internal locks held and must not block.
type Sink interface {
	Notify(ev protocol.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev protocol.Event)

func (f SinkFunc) Notify(ev protocol.Event) { f(ev) }

type discardSink struct{}

func (discardSink) Notify(protocol.Event) {}

// DiscoveryCanceller is the shared adapter whose discovery mode must be
// suspended before a dial.
type DiscoveryCanceller interface {
	CancelDiscovery()
}

// Queue is an unbounded Sink that preserves order and hands events to a
// single consumer through Events.
type Queue struct {
	mu      sync.Mutex
	pending []protocol.Event
	wake    chan struct{}
	out     chan protocol.Event
	done    chan struct{}
	once    sync.Once
}

func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		out:  make(chan protocol.Event),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Notify(ev protocol.Event) {
	select {
	case <-q.done:
		return
	default:
	}

	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Events is closed after Close. Events still pending at that point are dropped.
func (q *Queue) Events() <-chan protocol.Event {
	return q.out
}

func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *Queue) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		ev := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.done:
			return
		}
	}
}
