// Package status owns the scan status record. The Reporter is the only
// writer: it enforces the state machine and progress monotonicity and
// persists every mutation through a Store. Persist failures are logged and
// counted but never returned, so losing visibility never stops a scan.
package status

import (
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/netinventory/internal/inventory"
	"github.com/anstrom/netinventory/internal/logging"
	"github.com/anstrom/netinventory/internal/metrics"
)

// State is the lifecycle state of a scan.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Progress bands.
const (
	DiscoveryCeiling = 30
	HostBand         = 65
	ProgressDone     = 100
)

// Messages written to the status artifact.
const (
	MsgInitializing = "Initializing scan..."
	MsgDiscovery    = "Performing host discovery..."
	MsgCompleted    = "Scan completed successfully"
	MsgCancelled    = "Scan cancelled by user"
	msgFailedPrefix = "Scan failed: "
)

// HostProgress maps done of total characterized hosts into the host band.
func HostProgress(done, total int) int {
	if total <= 0 {
		return DiscoveryCeiling
	}
	if done < 0 {
		done = 0
	}
	if done > total {
		done = total
	}
	return DiscoveryCeiling + done*HostBand/total
}

// ScanStatus is the status artifact document.
type ScanStatus struct {
	ScanID    string     `json:"scan_id"`
	State     State      `json:"state"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message"`
	ScanType  string     `json:"scan_type"`
	Targets   []string   `json:"targets"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	HostCount *int       `json:"host_count"`
}

// ErrInvalidTransition is returned when a Reporter method is called in a
// state that does not allow it.
var ErrInvalidTransition = stderrors.New("invalid scan state transition")

// Reporter owns a ScanStatus and persists it on every change. It is safe for
// concurrent use, though the orchestrator drives it from one goroutine.
type Reporter struct {
	mu      sync.Mutex
	status  ScanStatus
	store   Store
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger used for persist failures.
func WithLogger(l *logging.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reporter) { r.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReporter creates a Reporter in the Pending state. Nothing is persisted
// until Start.
func NewReporter(store Store, scanID string, profile inventory.Profile, targets []string, opts ...Option) *Reporter {
	r := &Reporter{
		status: ScanStatus{
			ScanID:   scanID,
			State:    StatePending,
			ScanType: string(profile),
			Targets:  append([]string(nil), targets...),
		},
		store:  store,
		logger: logging.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithScanID(scanID)
	return r
}

// Start moves Pending to Running and persists the initial status.
func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State != StatePending {
		return r.transitionError(StateRunning)
	}
	start := r.now()
	r.status.State = StateRunning
	r.status.Progress = 0
	r.status.Message = MsgInitializing
	r.status.StartTime = &start
	r.persist()
	return nil
}

// Message replaces the status message while Running.
func (r *Reporter) Message(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State != StateRunning {
		return r.transitionError(StateRunning)
	}
	r.status.Message = msg
	r.persist()
	return nil
}

// Progress records a new progress value and message while Running. A value
// lower than the current one is ignored, so progress never moves backwards.
func (r *Reporter) Progress(progress int, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State != StateRunning {
		return r.transitionError(StateRunning)
	}
	if progress > ProgressDone {
		progress = ProgressDone
	}
	if progress > r.status.Progress {
		r.status.Progress = progress
	}
	if msg != "" {
		r.status.Message = msg
	}
	r.persist()
	return nil
}

// Complete moves Running to Completed with progress 100 and the host count.
// An empty message selects the default completion message.
func (r *Reporter) Complete(hostCount int, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State != StateRunning {
		return r.transitionError(StateCompleted)
	}
	if msg == "" {
		msg = MsgCompleted
	}
	r.finish(StateCompleted, msg)
	r.status.Progress = ProgressDone
	r.status.HostCount = &hostCount
	r.persist()
	return nil
}

// Cancel moves Running to Cancelled. Progress is left where it was.
func (r *Reporter) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State != StateRunning {
		return r.transitionError(StateCancelled)
	}
	r.finish(StateCancelled, MsgCancelled)
	r.persist()
	return nil
}

// Fail moves Running to Failed with a message carrying err. Progress is
// reset to zero like the scanner always reported it.
func (r *Reporter) Fail(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State != StateRunning {
		return r.transitionError(StateFailed)
	}
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	r.finish(StateFailed, msgFailedPrefix+reason)
	r.status.Progress = 0
	r.persist()
	return nil
}

// Snapshot returns a copy of the current status.
func (r *Reporter) Snapshot() ScanStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.clone()
}

// State returns the current lifecycle state.
func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.State
}

func (r *Reporter) finish(state State, msg string) {
	end := r.now()
	r.status.State = state
	r.status.Message = msg
	r.status.EndTime = &end
}

func (r *Reporter) transitionError(to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status.State, to)
}

func (r *Reporter) persist() {
	r.metrics.SetProgress(r.status.Progress)
	if r.store == nil {
		return
	}
	if err := r.store.WriteStatus(r.status.clone()); err != nil {
		r.logger.ErrorStatus("Failed to persist scan status", err,
			"state", r.status.State, "progress", r.status.Progress)
		r.metrics.IncrementArtifactErrors(metrics.ArtifactStatus)
	}
}

func (s ScanStatus) clone() ScanStatus {
	c := s
	c.Targets = append([]string(nil), s.Targets...)
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.HostCount != nil {
		n := *s.HostCount
		c.HostCount = &n
	}
	return c
}
