package kvbridge

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 10s with logarithmic spacing.
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

// Metrics tracks IPC and engine activity for a worker.
type Metrics struct {
	// Request counters, summed over all operations.
	RequestsSent   atomic.Uint64
	RequestsServed atomic.Uint64
	RequestErrors  atomic.Uint64

	// Bulk side-channel counters.
	BulkBatches atomic.Uint64
	BulkBytes   atomic.Uint64

	// Channel contention counters.
	SlotWaitCount  atomic.Uint64
	ArenaDrainWait atomic.Uint64

	// Performance tracking.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	// Latency histogram buckets (cumulative counts).
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordRequest records one request/response round trip.
func (m *Metrics) RecordRequest(latencyNs uint64, success bool) {
	m.RequestsSent.Add(1)
	if success {
		m.RequestsServed.Add(1)
	} else {
		m.RequestErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordBulkBatch records one batch written through the bulk side-channel.
func (m *Metrics) RecordBulkBatch(bytes uint64) {
	m.BulkBatches.Add(1)
	m.BulkBytes.Add(bytes)
}

// RecordSlotWait records that a client had to wait (beyond the first
// trywait scan) to lease a response slot.
func (m *Metrics) RecordSlotWait() {
	m.SlotWaitCount.Add(1)
}

// RecordArenaDrainWait records that a writer blocked on SemRequestDrained.
func (m *Metrics) RecordArenaDrainWait() {
	m.ArenaDrainWait.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the worker as stopped for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of Metrics.
type MetricsSnapshot struct {
	RequestsSent   uint64
	RequestsServed uint64
	RequestErrors  uint64

	BulkBatches uint64
	BulkBytes   uint64

	SlotWaitCount  uint64
	ArenaDrainWait uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	RequestsPerSecond float64
	ErrorRate         float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RequestsSent:   m.RequestsSent.Load(),
		RequestsServed: m.RequestsServed.Load(),
		RequestErrors:  m.RequestErrors.Load(),
		BulkBatches:    m.BulkBatches.Load(),
		BulkBytes:      m.BulkBytes.Load(),
		SlotWaitCount:  m.SlotWaitCount.Load(),
		ArenaDrainWait: m.ArenaDrainWait.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.RequestsPerSecond = float64(snap.RequestsSent) / uptimeSeconds
	}

	if snap.RequestsSent > 0 {
		snap.ErrorRate = float64(snap.RequestErrors) / float64(snap.RequestsSent) * 100.0
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

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters. Useful for testing.
func (m *Metrics) Reset() {
	m.RequestsSent.Store(0)
	m.RequestsServed.Store(0)
	m.RequestErrors.Store(0)
	m.BulkBatches.Store(0)
	m.BulkBytes.Store(0)
	m.SlotWaitCount.Store(0)
	m.ArenaDrainWait.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection from the worker loop.
type Observer interface {
	ObserveRequest(latencyNs uint64, success bool)
	ObserveBulkBatch(bytes uint64)
	ObserveSlotWait()
	ObserveArenaDrainWait()
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRequest(uint64, bool) {}
func (NoOpObserver) ObserveBulkBatch(uint64)     {}
func (NoOpObserver) ObserveSlotWait()            {}
func (NoOpObserver) ObserveArenaDrainWait()      {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRequest(latencyNs uint64, success bool) {
	o.metrics.RecordRequest(latencyNs, success)
}

func (o *MetricsObserver) ObserveBulkBatch(bytes uint64) {
	o.metrics.RecordBulkBatch(bytes)
}

func (o *MetricsObserver) ObserveSlotWait() {
	o.metrics.RecordSlotWait()
}

func (o *MetricsObserver) ObserveArenaDrainWait() {
	o.metrics.RecordArenaDrainWait()
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
