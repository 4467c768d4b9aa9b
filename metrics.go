package continuum

import (
	"sync/atomic"
	"time"

	"github.com/continuum-os/continuum/internal/interfaces"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics aggregates kernel-wide statistics, read through Kernel.Metrics
// and Kernel.MetricsSnapshot. A Kernel owns one Metrics. The QueryStats
// system request does not read it: it returns the calling quantum's own
// request counter (see internal/sched).
type Metrics struct {
	SystemRequests  atomic.Uint64
	ContextSwitches atomic.Uint64
	PageFaults      atomic.Uint64

	SendOps    atomic.Uint64
	ReceiveOps atomic.Uint64
	SendBytes  atomic.Uint64
	RecvBytes  atomic.Uint64

	SendErrors    atomic.Uint64
	ReceiveErrors atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new, running Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records an IPC send (§4.D) for latency/throughput tracking.
func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordReceive records an IPC receive.
func (m *Metrics) RecordReceive(bytes uint64, latencyNs uint64, success bool) {
	m.ReceiveOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.ReceiveErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordQueueDepth records a conduit ring occupancy sample.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)
	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// RecordSystemRequest increments the dispatcher's total request counter.
func (m *Metrics) RecordSystemRequest() { m.SystemRequests.Add(1) }

// RecordContextSwitch increments the scheduler's context-switch counter.
func (m *Metrics) RecordContextSwitch() { m.ContextSwitches.Add(1) }

// RecordPageFault increments the memory manager's fault counter.
func (m *Metrics) RecordPageFault() { m.PageFaults.Add(1) }

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the kernel instance as halted.
func (m *Metrics) Stop() { m.StopTime.Store(time.Now().UnixNano()) }

// Snapshot is a point-in-time copy of Metrics, returned by
// Kernel.MetricsSnapshot.
type Snapshot struct {
	SystemRequests  uint64
	ContextSwitches uint64
	PageFaults      uint64

	SendOps, ReceiveOps     uint64
	SendBytes, RecvBytes    uint64
	SendErrors, RecvErrors  uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns, LatencyP99Ns, LatencyP999Ns uint64
	LatencyHistogram                          [numLatencyBuckets]uint64
}

// Snapshot computes a consistent point-in-time view of m.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		SystemRequests:  m.SystemRequests.Load(),
		ContextSwitches: m.ContextSwitches.Load(),
		PageFaults:      m.PageFaults.Load(),
		SendOps:         m.SendOps.Load(),
		ReceiveOps:      m.ReceiveOps.Load(),
		SendBytes:       m.SendBytes.Load(),
		RecvBytes:       m.RecvBytes.Load(),
		SendErrors:      m.SendErrors.Load(),
		RecvErrors:      m.ReceiveErrors.Load(),
		MaxQueueDepth:   m.MaxQueueDepth.Load(),
	}

	if c := m.QueueDepthCount.Load(); c > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(c)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	start := m.StartTime.Load()
	if stop := m.StopTime.Load(); stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0-1)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.OpCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters; used by tests that need a fresh Metrics
// without reconstructing an entire Kernel.
func (m *Metrics) Reset() {
	m.SystemRequests.Store(0)
	m.ContextSwitches.Store(0)
	m.PageFaults.Store(0)
	m.SendOps.Store(0)
	m.ReceiveOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.SendErrors.Store(0)
	m.ReceiveErrors.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver adapts Metrics to interfaces.Observer so subsystems can
// report through the narrow interface without importing the root package.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver wraps m as an Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{metrics: m} }

func (o *MetricsObserver) ObserveSchedule(cpu int, priority int, waitNs uint64) {
	o.metrics.RecordContextSwitch()
	o.metrics.recordLatency(waitNs)
}

func (o *MetricsObserver) ObserveFault(kind string, resolvedNs uint64, ok bool) {
	o.metrics.RecordPageFault()
}

func (o *MetricsObserver) ObserveSend(conduit string, bytes uint64, latencyNs uint64, ok bool) {
	o.metrics.RecordSend(bytes, latencyNs, ok)
}

func (o *MetricsObserver) ObserveReceive(conduit string, bytes uint64, latencyNs uint64, ok bool) {
	o.metrics.RecordReceive(bytes, latencyNs, ok)
}

func (o *MetricsObserver) ObserveQueueDepth(conduit string, depth uint32) {
	o.metrics.RecordQueueDepth(depth)
}

var _ interfaces.Observer = (*MetricsObserver)(nil)
