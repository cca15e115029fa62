package authkit

import "sync"

// Auth events recorded by the session manager.
const (
	MetricLoginSuccess         = "auth.login.success"
	MetricLoginFailure         = "auth.login.failure"
	MetricRefreshSuccess       = "auth.refresh.success"
	MetricRefreshFailure       = "auth.refresh.failure"
	MetricRefreshReuseDetected = "auth.refresh.reuse_detected"
	MetricLogoutSuccess        = "auth.logout.success"
	MetricSweepPurged          = "auth.sweep.purged"
)

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// CounterMetrics implements MetricsRecorder with in-memory counts.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.Add(event, 1)
}

// Add increases the counter for the given event by delta.
func (recorder *CounterMetrics) Add(event string, delta int64) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event] += delta
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}
