// Package metrics provides Prometheus-based metrics collection for netinventory.
// A scan is a one-shot job, so metrics are exported by writing the registry to
// a node_exporter textfile at the end of the run rather than served over HTTP.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all netinventory metrics
	namespace = "netinventory"

	// Subsystems
	subsystemScan      = "scan"
	subsystemDiscovery = "discovery"
	subsystemWorkers   = "workers"
	subsystemArtifact  = "artifact"
)

// Metrics holds all Prometheus metric collectors. Every method is safe to
// call on a nil *Metrics, which records nothing.
type Metrics struct {
	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	hostsScanned *prometheus.CounterVec
	openPorts    *prometheus.CounterVec
	deviceTypes  *prometheus.CounterVec
	scanProgress prometheus.Gauge

	// Discovery metrics
	discoveryDuration prometheus.Histogram
	discoveryErrors   *prometheus.CounterVec
	hostsDiscovered   prometheus.Counter

	// Worker pool metrics
	jobsTotal     *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	activeWorkers prometheus.Gauge

	// Artifact metrics
	artifactErrors *prometheus.CounterVec

	startTime time.Time
	mu        sync.Mutex
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new metrics instance with its own registry.
func NewPrometheusMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),
		registry:  registry,
	}

	m.initScanMetrics()
	m.initDiscoveryMetrics()
	m.initWorkerMetrics()
	m.initArtifactMetrics()
	m.registerMetrics()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) initScanMetrics() {
	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by profile and terminal state",
		},
		[]string{LabelProfile, LabelState},
	)

	m.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Wall clock duration of scans in seconds",
			Buckets:   []float64{1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0, 3600.0},
		},
		[]string{LabelProfile},
	)

	m.hostsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "hosts_total",
			Help:      "Total number of hosts characterized by profile and host status",
		},
		[]string{LabelProfile, LabelHostStatus},
	)

	m.openPorts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "open_ports_total",
			Help:      "Total number of open ports observed",
		},
		[]string{LabelProfile},
	)

	m.deviceTypes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "devices_total",
			Help:      "Total number of classified hosts by device type",
		},
		[]string{LabelDeviceType},
	)

	m.scanProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "progress_percent",
			Help:      "Last reported scan progress",
		},
	)
}

func (m *Metrics) initDiscoveryMetrics() {
	m.discoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "duration_seconds",
			Help:      "Duration of discovery sweeps in seconds",
			Buckets:   []float64{1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
	)

	m.discoveryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "errors_total",
			Help:      "Total number of failed discovery sweeps by error code",
		},
		[]string{LabelErrorCode},
	)

	m.hostsDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "hosts_total",
			Help:      "Total number of live hosts found by discovery",
		},
	)
}

func (m *Metrics) initWorkerMetrics() {
	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "jobs_total",
			Help:      "Total number of pool jobs by outcome",
		},
		[]string{LabelStatus},
	)

	m.jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "job_duration_seconds",
			Help:      "Duration of pool jobs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "active",
			Help:      "Number of running pool workers",
		},
	)
}

func (m *Metrics) initArtifactMetrics() {
	m.artifactErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemArtifact,
			Name:      "write_errors_total",
			Help:      "Total number of failed status or result file writes",
		},
		[]string{LabelArtifact},
	)
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.hostsScanned,
		m.openPorts,
		m.deviceTypes,
		m.scanProgress,
		m.discoveryDuration,
		m.discoveryErrors,
		m.hostsDiscovered,
		m.jobsTotal,
		m.jobDuration,
		m.activeWorkers,
		m.artifactErrors,
	)
}

// GetRegistry returns the underlying Prometheus registry.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Scan Metrics Methods

// RecordScan records a finished scan with its terminal state and duration.
func (m *Metrics) RecordScan(profile, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(profile, state).Inc()
	m.scanDuration.WithLabelValues(profile).Observe(duration.Seconds())
}

// IncrementHostsScanned counts characterized hosts.
func (m *Metrics) IncrementHostsScanned(profile, hostStatus string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.hostsScanned.WithLabelValues(profile, hostStatus).Add(float64(count))
}

// AddOpenPorts counts open ports seen on a host.
func (m *Metrics) AddOpenPorts(profile string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.openPorts.WithLabelValues(profile).Add(float64(count))
}

// IncrementDeviceType counts a classified host.
func (m *Metrics) IncrementDeviceType(deviceType string) {
	if m == nil {
		return
	}
	m.deviceTypes.WithLabelValues(deviceType).Inc()
}

// SetProgress records the last persisted progress value.
func (m *Metrics) SetProgress(progress int) {
	if m == nil {
		return
	}
	m.scanProgress.Set(float64(progress))
}

// Discovery Metrics Methods

// RecordDiscovery records a successful sweep.
func (m *Metrics) RecordDiscovery(duration time.Duration, hosts int) {
	if m == nil {
		return
	}
	m.discoveryDuration.Observe(duration.Seconds())
	if hosts > 0 {
		m.hostsDiscovered.Add(float64(hosts))
	}
}

// IncrementDiscoveryErrors counts a failed sweep by error code.
func (m *Metrics) IncrementDiscoveryErrors(code string) {
	if m == nil {
		return
	}
	m.discoveryErrors.WithLabelValues(code).Inc()
}

// Worker Metrics Methods

// IncrementJobs counts a finished pool job.
func (m *Metrics) IncrementJobs(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

// ObserveJobDuration records how long a pool job ran.
func (m *Metrics) ObserveJobDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.Observe(duration.Seconds())
}

// AddActiveWorkers adjusts the running worker gauge by delta.
func (m *Metrics) AddActiveWorkers(delta int) {
	if m == nil {
		return
	}
	m.activeWorkers.Add(float64(delta))
}

// Artifact Metrics Methods

// IncrementArtifactErrors counts a failed write of the named artifact.
func (m *Metrics) IncrementArtifactErrors(artifact string) {
	if m == nil {
		return
	}
	m.artifactErrors.WithLabelValues(artifact).Inc()
}

// GetUptime returns the time since the metrics instance was created.
func (m *Metrics) GetUptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text exposition format. The parent directory is created if needed.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
