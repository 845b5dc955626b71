package gateway

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CallMetrics tracks request outcomes and latency for the gateway.
type CallMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64

	mu             sync.RWMutex
	latencyHistory []int64
	maxHistorySize int
}

func NewCallMetrics() *CallMetrics {
	return &CallMetrics{
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (m *CallMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())

	m.mu.Lock()
	if len(m.latencyHistory) >= m.maxHistorySize {
		m.latencyHistory = m.latencyHistory[1:]
	}
	m.latencyHistory = append(m.latencyHistory, latencyMs)
	m.mu.Unlock()
}

func (m *CallMetrics) RecordFailure() int32 {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
	return m.ConsecutiveFails.Add(1)
}

func (m *CallMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *CallMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *CallMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencyHistory) == 0 {
		return 0
	}

	sorted := make([]int64, len(m.latencyHistory))
	copy(sorted, m.latencyHistory)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
)

func (s BreakerState) String() string {
	if s == BreakerOpen {
		return "OPEN"
	}
	return "CLOSED"
}

// breaker opens after threshold consecutive transport failures and lets a
// single probe through once the cooldown has passed.
type breaker struct {
	threshold int32
	cooldown  time.Duration
	openUntil atomic.Int64
	now       func() time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: int32(threshold), cooldown: cooldown, now: time.Now}
}

func (b *breaker) allow() bool {
	until := b.openUntil.Load()
	if until == 0 {
		return true
	}
	now := b.now().UnixNano()
	if now < until {
		return false
	}
	// half-open: only the caller that resets the deadline gets the probe
	return b.openUntil.CompareAndSwap(until, now+b.cooldown.Nanoseconds())
}

func (b *breaker) onSuccess() {
	b.openUntil.Store(0)
}

func (b *breaker) onFailure(consecutive int32) bool {
	if b.threshold <= 0 || consecutive < b.threshold {
		return false
	}
	b.openUntil.Store(b.now().Add(b.cooldown).UnixNano())
	return true
}

func (b *breaker) state() BreakerState {
	until := b.openUntil.Load()
	if until != 0 && b.now().UnixNano() < until {
		return BreakerOpen
	}
	return BreakerClosed
}

type Stats struct {
	State            string
	TotalRequests    int64
	SuccessfulReqs   int64
	FailedReqs       int64
	SuccessRate      float64
	AvgLatencyMs     int64
	P95LatencyMs     int64
	LastLatencyMs    int64
	ConsecutiveFails int32
}
