package rdma

import (
	"sync/atomic"
	"time"

	"github.com/ankit-raj78/xv6-RDMA/internal/qp"
)

// Metrics tracks operational statistics for one core. All counters are
// atomics; readers take a Snapshot for a consistent-enough view.
type Metrics struct {
	// Work request accounting
	Posts            atomic.Uint64 // work requests accepted by post_send
	Completions      atomic.Uint64 // successful completions posted
	CompletionErrors atomic.Uint64 // error completions posted
	BytesCompleted   atomic.Uint64 // payload bytes of successful completions

	// Frame accounting
	FramesTx      atomic.Uint64 // frames handed to the link
	FramesRx      atomic.Uint64 // RDMA frames accepted off the link
	FrameBytesTx  atomic.Uint64
	FrameBytesRx  atomic.Uint64
	FramesDropped atomic.Uint64 // inbound frames silently dropped

	// ACK matching
	AcksMatched  atomic.Uint64 // ACKs that completed a pending write
	AcksOrphaned atomic.Uint64 // ACKs with no pending entry

	// Lifecycle
	StartTime atomic.Int64 // core creation timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// MetricsSnapshot is a point-in-time copy of all counters plus derived
// statistics.
type MetricsSnapshot struct {
	Posts            uint64
	Completions      uint64
	CompletionErrors uint64
	BytesCompleted   uint64

	FramesTx      uint64
	FramesRx      uint64
	FrameBytesTx  uint64
	FrameBytesRx  uint64
	FramesDropped uint64

	AcksMatched  uint64
	AcksOrphaned uint64

	UptimeNs  uint64
	ErrorRate float64 // percentage of completions that were errors
}

// Snapshot copies the counters out.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Posts:            m.Posts.Load(),
		Completions:      m.Completions.Load(),
		CompletionErrors: m.CompletionErrors.Load(),
		BytesCompleted:   m.BytesCompleted.Load(),
		FramesTx:         m.FramesTx.Load(),
		FramesRx:         m.FramesRx.Load(),
		FrameBytesTx:     m.FrameBytesTx.Load(),
		FrameBytesRx:     m.FrameBytesRx.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		AcksMatched:      m.AcksMatched.Load(),
		AcksOrphaned:     m.AcksOrphaned.Load(),
	}

	snap.UptimeNs = uint64(time.Now().UnixNano() - m.StartTime.Load())

	total := snap.Completions + snap.CompletionErrors
	if total > 0 {
		snap.ErrorRate = float64(snap.CompletionErrors) / float64(total) * 100.0
	}
	return snap
}

// Reset resets all counters (useful for testing).
func (m *Metrics) Reset() {
	m.Posts.Store(0)
	m.Completions.Store(0)
	m.CompletionErrors.Store(0)
	m.BytesCompleted.Store(0)
	m.FramesTx.Store(0)
	m.FramesRx.Store(0)
	m.FrameBytesTx.Store(0)
	m.FrameBytesRx.Store(0)
	m.FramesDropped.Store(0)
	m.AcksMatched.Store(0)
	m.AcksOrphaned.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
}

// Observer receives engine events. Implementations must be thread-safe;
// methods are called from the executor and the NIC RX thread.
type Observer = qp.Observer

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObservePost(qp.Opcode)                {}
func (NoOpObserver) ObserveCompletion(qp.Status, uint32)  {}
func (NoOpObserver) ObserveFrameTx(int)                   {}
func (NoOpObserver) ObserveFrameRx(int)                   {}
func (NoOpObserver) ObserveAck(bool)                      {}
func (NoOpObserver) ObserveDrop()                         {}

// MetricsObserver records engine events into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given
// metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePost(qp.Opcode) {
	o.metrics.Posts.Add(1)
}

func (o *MetricsObserver) ObserveCompletion(status qp.Status, bytes uint32) {
	if status == qp.StatusSuccess {
		o.metrics.Completions.Add(1)
		o.metrics.BytesCompleted.Add(uint64(bytes))
	} else {
		o.metrics.CompletionErrors.Add(1)
	}
}

func (o *MetricsObserver) ObserveFrameTx(bytes int) {
	o.metrics.FramesTx.Add(1)
	o.metrics.FrameBytesTx.Add(uint64(bytes))
}

func (o *MetricsObserver) ObserveFrameRx(bytes int) {
	o.metrics.FramesRx.Add(1)
	o.metrics.FrameBytesRx.Add(uint64(bytes))
}

func (o *MetricsObserver) ObserveAck(matched bool) {
	if matched {
		o.metrics.AcksMatched.Add(1)
	} else {
		o.metrics.AcksOrphaned.Add(1)
	}
}

func (o *MetricsObserver) ObserveDrop() {
	o.metrics.FramesDropped.Add(1)
}

// Compile-time interface checks
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
