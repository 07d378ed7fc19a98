package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/protocol"
)

const namespace = "linkchat"

// Metrics holds link activity counters. All methods are safe on a nil
// receiver so callers can leave metrics disabled.
type Metrics struct {
	registry *prometheus.Registry

	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	transitions   *prometheus.CounterVec
	dialFailures  prometheus.Counter
	linkLosses    prometheus.Counter
	droppedWrites prometheus.Counter
	state         prometheus.Gauge

	// Mirrors of the counters above for the periodic log line.
	received  atomic.Int64
	sent      atomic.Int64
	failures  atomic.Int64
	losses    atomic.Int64
	dropped   atomic.Int64
	current   atomic.Int32
	startedAt time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	BytesIn       int64
	BytesOut      int64
	DialFailures  int64
	LinkLosses    int64
	DroppedWrites int64
	State         protocol.ConnectionState
	Uptime        time.Duration
}

// New creates a Metrics with its own registry, including Go runtime
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Bytes read from the connected peer.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Bytes written to the connected peer.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "state_transitions_total",
			Help: "Connection state transitions by target state.",
		}, []string{"state"}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dial_failures_total",
			Help: "Outbound connection attempts that failed.",
		}),
		linkLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_losses_total",
			Help: "Established links that dropped.",
		}),
		droppedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "writes_dropped_total",
			Help: "Writes that failed and were dropped.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "Current connection state (0 none, 1 listening, 2 connecting, 3 connected).",
		}),
		startedAt: time.Now(),
	}
	m.registry.MustRegister(
		m.bytesIn, m.bytesOut, m.transitions, m.dialFailures,
		m.linkLosses, m.droppedWrites, m.state,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordReceived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesIn.Add(float64(n))
	m.received.Add(int64(n))
}

func (m *Metrics) RecordSent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesOut.Add(float64(n))
	m.sent.Add(int64(n))
}

func (m *Metrics) RecordState(s protocol.ConnectionState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(s.String()).Inc()
	m.state.Set(float64(s))
	m.current.Store(int32(s))
}

func (m *Metrics) RecordDialFailure() {
	if m == nil {
		return
	}
	m.dialFailures.Inc()
	m.failures.Add(1)
}

func (m *Metrics) RecordLinkLoss() {
	if m == nil {
		return
	}
	m.linkLosses.Inc()
	m.losses.Add(1)
}

func (m *Metrics) RecordDroppedWrite() {
	if m == nil {
		return
	}
	m.droppedWrites.Inc()
	m.dropped.Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		BytesIn:       m.received.Load(),
		BytesOut:      m.sent.Load(),
		DialFailures:  m.failures.Load(),
		LinkLosses:    m.losses.Load(),
		DroppedWrites: m.dropped.Load(),
		State:         protocol.ConnectionState(m.current.Load()),
		Uptime:        time.Since(m.startedAt),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Sugar.Infof("[Metrics] serving /metrics on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// LogPeriodic logs a one-line summary at the given interval until ctx is done.
func (m *Metrics) LogPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logOnce()
		}
	}
}

func (m *Metrics) logOnce() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s := m.Snapshot()

	logger.Sugar.Infof("[Metrics] Goroutines=%d | HeapAlloc=%dMB | State=%s | In=%dB | Out=%dB | DialFailures=%d | Losses=%d | Dropped=%d",
		runtime.NumGoroutine(),
		mem.HeapAlloc/1024/1024,
		s.State,
		s.BytesIn,
		s.BytesOut,
		s.DialFailures,
		s.LinkLosses,
		s.DroppedWrites,
	)
}
