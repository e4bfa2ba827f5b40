package kvbridge

import "testing"

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.RequestsSent != 0 {
		t.Errorf("Expected 0 initial requests, got %d", snap.RequestsSent)
	}

	m.RecordRequest(1000000, true)  // 1ms, success
	m.RecordRequest(2000000, true)  // 2ms, success
	m.RecordRequest(500000, false)  // 0.5ms, error

	snap = m.Snapshot()

	if snap.RequestsSent != 3 {
		t.Errorf("Expected 3 requests, got %d", snap.RequestsSent)
	}
	if snap.RequestsServed != 2 {
		t.Errorf("Expected 2 served, got %d", snap.RequestsServed)
	}
	if snap.RequestErrors != 1 {
		t.Errorf("Expected 1 error, got %d", snap.RequestErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest(1000000, true) // 1ms
	m.RecordRequest(2000000, true) // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000)
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsBulkAndChannelCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordBulkBatch(4096)
	m.RecordBulkBatch(8192)
	m.RecordSlotWait()
	m.RecordArenaDrainWait()
	m.RecordArenaDrainWait()

	snap := m.Snapshot()
	if snap.BulkBatches != 2 {
		t.Errorf("Expected 2 bulk batches, got %d", snap.BulkBatches)
	}
	if snap.BulkBytes != 12288 {
		t.Errorf("Expected 12288 bulk bytes, got %d", snap.BulkBytes)
	}
	if snap.SlotWaitCount != 1 {
		t.Errorf("Expected 1 slot wait, got %d", snap.SlotWaitCount)
	}
	if snap.ArenaDrainWait != 2 {
		t.Errorf("Expected 2 arena drain waits, got %d", snap.ArenaDrainWait)
	}
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 100; i++ {
		latency := uint64(1_000_000)
		if i >= 99 {
			latency = 50_000_000
		}
		m.RecordRequest(latency, true)
	}

	snap := m.Snapshot()
	if snap.LatencyP50Ns == 0 {
		t.Error("Expected non-zero p50 latency")
	}
	if snap.LatencyP999Ns < snap.LatencyP50Ns {
		t.Errorf("Expected p99.9 (%d) >= p50 (%d)", snap.LatencyP999Ns, snap.LatencyP50Ns)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest(1000, true)
	m.RecordBulkBatch(100)

	m.Reset()

	snap := m.Snapshot()
	if snap.RequestsSent != 0 || snap.BulkBatches != 0 {
		t.Error("Expected all counters to be zero after Reset")
	}
}

func TestNoOpObserverDoesNotPanic(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveRequest(100, true)
	o.ObserveBulkBatch(100)
	o.ObserveSlotWait()
	o.ObserveArenaDrainWait()
}

func TestMetricsObserverRecordsIntoMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)

	o.ObserveRequest(1000, true)
	o.ObserveBulkBatch(256)
	o.ObserveSlotWait()
	o.ObserveArenaDrainWait()

	snap := m.Snapshot()
	if snap.RequestsSent != 1 {
		t.Errorf("Expected 1 request recorded via observer, got %d", snap.RequestsSent)
	}
	if snap.BulkBytes != 256 {
		t.Errorf("Expected 256 bulk bytes recorded via observer, got %d", snap.BulkBytes)
	}
}
