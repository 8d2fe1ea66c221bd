package metrics

import (
	"sync"
	"time"
)

// Label keys.
const (
	LabelProfile    = "profile"
	LabelState      = "state"
	LabelHostStatus = "host_status"
	LabelDeviceType = "device_type"
	LabelErrorCode  = "error_code"
	LabelStatus     = "status"
	LabelArtifact   = "artifact"
)

// Job outcome label values.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobDropped   = "dropped"
)

// Artifact label values.
const (
	ArtifactStatus  = "status"
	ArtifactResults = "results"
)

// Global instance for easy access.
var (
	globalMu      sync.RWMutex
	globalMetrics *Metrics
)

// Default returns the process wide metrics instance, creating it on first use.
func Default() *Metrics {
	globalMu.RLock()
	m := globalMetrics
	globalMu.RUnlock()
	if m != nil {
		return m
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = NewPrometheusMetrics()
	}
	return globalMetrics
}

// SetDefault replaces the process wide metrics instance.
func SetDefault(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Timer measures a duration and hands it to a recording function on Stop.
type Timer struct {
	start  time.Time
	record func(time.Duration)
}

// NewTimer starts a timer. record may be nil.
func NewTimer(record func(time.Duration)) *Timer {
	return &Timer{start: time.Now(), record: record}
}

// Stop records and returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.record != nil {
		t.record(d)
	}
	return d
}
