package runtime

import (
	"sync"
	"time"
)

// Metrics tracks a rolling requests-per-second rate and an average flow
// duration across all user goroutines. Grounded on the Python Metrics
// class's lock-protected deque + cached-read pattern.
type Metrics struct {
	mu sync.Mutex

	requestTimestamps []time.Time

	cachedRPS     float64
	lastRPSUpdate time.Time

	flowDurationSum time.Duration
	flowCount       int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementRequests records one completed HTTP request.
func (m *Metrics) IncrementRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.requestTimestamps = append(m.requestTimestamps, now)
	m.pruneLocked(now)
}

// RPS returns the number of requests observed in the trailing one-second
// window. The computed value is cached for 100ms to bound lock
// contention under heavy concurrent request volume.
func (m *Metrics) RPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !m.lastRPSUpdate.IsZero() && now.Sub(m.lastRPSUpdate) < 100*time.Millisecond {
		return m.cachedRPS
	}

	m.pruneLocked(now)
	m.cachedRPS = float64(len(m.requestTimestamps))
	m.lastRPSUpdate = now
	return m.cachedRPS
}

func (m *Metrics) pruneLocked(now time.Time) {
	cutoff := now.Add(-1 * time.Second)
	i := 0
	for i < len(m.requestTimestamps) && m.requestTimestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.requestTimestamps = m.requestTimestamps[i:]
	}
}

// RecordFlowDuration accumulates a completed flow iteration's duration.
// Negative durations are rejected (clock skew / caller bug) rather than
// silently corrupting the average.
func (m *Metrics) RecordFlowDuration(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowDurationSum += d
	m.flowCount++
}

// AverageFlowDuration returns the mean recorded flow duration, or zero if
// no flow has completed yet.
func (m *Metrics) AverageFlowDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flowCount == 0 {
		return 0
	}
	return m.flowDurationSum / time.Duration(m.flowCount)
}

// Snapshot is the point-in-time metrics payload served over the control
// surface.
type Snapshot struct {
	RequestsPerSecond   float64 `json:"rps"`
	AverageFlowDuration float64 `json:"avgFlowDurationMs"`
	ActiveUsers         int     `json:"activeUsers"`
}

// Snapshot reports the current RPS and average flow duration in
// milliseconds. ActiveUsers is left zero here; callers that track active
// users (the Orchestrator) fill it in.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RequestsPerSecond:   m.RPS(),
		AverageFlowDuration: float64(m.AverageFlowDuration().Milliseconds()),
	}
}
