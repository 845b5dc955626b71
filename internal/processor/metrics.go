package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics counts relay outcomes since start.
type ServiceMetrics struct {
	processed  atomic.Int64
	failed     atomic.Int64
	durationNs atomic.Int64
	maxNs      atomic.Int64
	startedAt  time.Time
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{startedAt: time.Now()}
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	m.processed.Add(1)
	m.durationNs.Add(int64(duration))
	for {
		cur := m.maxNs.Load()
		if int64(duration) <= cur || m.maxNs.CompareAndSwap(cur, int64(duration)) {
			return
		}
	}
}

func (m *ServiceMetrics) RecordFailure() {
	m.failed.Add(1)
}

func (m *ServiceMetrics) GetStats() map[string]interface{} {
	processed := m.processed.Load()
	elapsed := time.Since(m.startedAt).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(processed) / elapsed
	}

	avg := time.Duration(0)
	if processed > 0 {
		avg = time.Duration(m.durationNs.Load() / processed)
	}

	return map[string]interface{}{
		"total_processed": processed,
		"total_failed":    m.failed.Load(),
		"rate_per_second": rate,
		"avg_duration_ms": avg.Milliseconds(),
		"max_duration_ms": time.Duration(m.maxNs.Load()).Milliseconds(),
		"uptime_seconds":  elapsed,
	}
}
