package scanning

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netinventory/internal/cancel"
	"github.com/anstrom/netinventory/internal/classify"
	"github.com/anstrom/netinventory/internal/errors"
	"github.com/anstrom/netinventory/internal/inventory"
	"github.com/anstrom/netinventory/internal/logging"
	"github.com/anstrom/netinventory/internal/metrics"
	"github.com/anstrom/netinventory/internal/probe"
	"github.com/anstrom/netinventory/internal/status"
	"github.com/anstrom/netinventory/internal/workers"
)

const (
	msgOSNotImplemented   = "OS detection not implemented yet"
	msgVulnNotImplemented = "Vulnerability scan not implemented yet"

	characterizeJobType = "characterize"
)

// errCancelled unwinds a run after a cancellation checkpoint fired.
var errCancelled = stderrors.New("scan cancelled")

// Orchestrator drives a scan request through discovery and per-host
// characterization and reports progress through a status.Reporter. It is
// the only writer of the scan status.
type Orchestrator struct {
	engine      probe.Engine
	store       status.Store
	monitor     cancel.Monitor
	pool        workers.Config
	statusFile  string
	resultsFile string
	cancelFile  string
	logger      *logging.Logger
	metrics     *metrics.Metrics
	newID       func() string
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore overrides the artifact store. By default a status.FileStore is
// created in the request's output directory.
func WithStore(s status.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithMonitor overrides the cancellation monitor. By default the cancel
// marker in the request's output directory is watched.
func WithMonitor(m cancel.Monitor) Option {
	return func(o *Orchestrator) { o.monitor = m }
}

// WithPoolConfig sets the worker pool used by the full profile.
func WithPoolConfig(cfg workers.Config) Option {
	return func(o *Orchestrator) { o.pool = cfg }
}

// WithArtifactNames sets the file names used inside the output directory.
// Empty names keep the defaults.
func WithArtifactNames(statusFile, resultsFile, cancelFile string) Option {
	return func(o *Orchestrator) {
		if statusFile != "" {
			o.statusFile = statusFile
		}
		if resultsFile != "" {
			o.resultsFile = resultsFile
		}
		if cancelFile != "" {
			o.cancelFile = cancelFile
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithIDGenerator replaces the scan id generator.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newID = gen
		}
	}
}

// WithClock replaces the clock used for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an orchestrator using engine for all probing.
func New(engine probe.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:      engine,
		pool:        workers.DefaultConfig(),
		statusFile:  status.DefaultStatusFile,
		resultsFile: status.DefaultResultsFile,
		cancelFile:  cancel.DefaultMarkerName,
		logger:      logging.Default(),
		newID:       func() string { return uuid.New().String() },
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("scanning")
	return o
}

// Run executes req to a terminal state.
//
// Invalid requests are rejected before any status is written. Otherwise
// the returned Outcome carries the terminal state: Completed and Cancelled
// return a nil error, Failed returns the cause. Cancelling ctx is handled
// like a cancellation request.
func (o *Orchestrator) Run(ctx context.Context, req ScanRequest) (Outcome, error) {
	startedAt := time.Now()
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}

	store := o.store
	if store == nil {
		fs := status.NewFileStore(req.OutputDir, o.statusFile, o.resultsFile)
		if err := fs.EnsureDir(); err != nil {
			return Outcome{}, err
		}
		store = fs
	}

	scanID := o.newID()
	logger := o.logger.WithScanID(scanID)

	// Artifacts of an earlier scan in the same directory must not leak into
	// this one.
	if err := store.RemoveResults(); err != nil {
		return Outcome{}, err
	}
	marker := cancel.MarkerPath(req.OutputDir, o.cancelFile)
	removed, err := cancel.ClearStale(marker, startedAt)
	if err != nil {
		return Outcome{}, errors.WrapScanErrorWithTarget(errors.CodeFilePermission,
			"Failed to clear cancel marker", marker, err)
	}
	if removed {
		logger.Info("Removed cancel marker left by an earlier scan", "path", marker)
	}

	monitor := o.monitor
	if monitor == nil {
		monitor = cancel.ForDir(req.OutputDir, o.cancelFile)
	}
	monitor = cancel.Any(monitor, cancel.Func(func() bool { return ctx.Err() != nil }))

	reporter := status.NewReporter(store, scanID, req.Profile, req.Targets,
		status.WithLogger(logger),
		status.WithMetrics(o.metrics),
		status.WithClock(o.now))

	run := &scanRun{
		Orchestrator: o,
		ctx:          ctx,
		req:          req,
		reporter:     reporter,
		monitor:      monitor,
		logger:       logger,
	}
	return run.execute(store)
}

// scanRun holds the state of a single Run call.
type scanRun struct {
	*Orchestrator
	ctx      context.Context
	req      ScanRequest
	reporter *status.Reporter
	monitor  cancel.Monitor
	logger   *logging.Logger
}

func (r *scanRun) execute(store status.Store) (Outcome, error) {
	start := time.Now()
	target := strings.Join(r.req.Targets, ",")
	profile := string(r.req.Profile)

	r.logger.InfoScan("Starting scan", target, "profile", profile)
	_ = r.reporter.Start()

	hosts, msg, err := r.runProfile()

	var state status.State
	switch {
	case err == nil:
		// Results land before the Completed status so observers never see
		// a completed scan without its result file.
		if err = store.WriteResults(hosts); err != nil {
			r.metrics.IncrementArtifactErrors(metrics.ArtifactResults)
			hosts = nil
			_ = r.reporter.Fail(err)
			state = status.StateFailed
		} else {
			_ = r.reporter.Complete(len(hosts), msg)
			state = status.StateCompleted
		}

	case stderrors.Is(err, errCancelled):
		err = nil
		hosts = nil
		_ = r.reporter.Cancel()
		state = status.StateCancelled

	default:
		hosts = nil
		_ = r.reporter.Fail(err)
		state = status.StateFailed
	}

	duration := time.Since(start)
	r.metrics.RecordScan(profile, string(state), duration)

	switch state {
	case status.StateFailed:
		r.logger.ErrorScan("Scan failed", target, err, "profile", profile, "duration", duration)
	default:
		r.logger.InfoScan("Scan finished", target,
			"profile", profile,
			"state", state,
			"host_count", len(hosts),
			"duration", duration)
	}

	snap := r.reporter.Snapshot()
	return Outcome{
		ScanID: snap.ScanID,
		State:  state,
		Hosts:  hosts,
		Status: snap,
	}, err
}

// runProfile dispatches on the profile. The returned message replaces the
// default completion message when non-empty.
func (r *scanRun) runProfile() ([]inventory.HostFacts, string, error) {
	if r.stopRequested() {
		return nil, "", errCancelled
	}

	if !r.req.Profile.Implemented() {
		return []inventory.HostFacts{}, placeholderMessage(r.req.Profile), nil
	}

	switch r.req.Profile {
	case inventory.ProfileQuick:
		_ = r.reporter.Message("Starting quick scan")
		hosts, err := r.quickScan()
		return hosts, "", err
	case inventory.ProfileFull:
		_ = r.reporter.Message("Starting full scan")
		hosts, err := r.fullScan()
		return hosts, "", err
	case inventory.ProfilePortOnly:
		_ = r.reporter.Message("Starting port scan")
		hosts, err := r.portScan()
		return hosts, "", err
	default:
		return nil, "", errors.ErrInvalidProfile(string(r.req.Profile))
	}
}

// placeholderMessage is the completion message of a profile that runs no
// probes.
func placeholderMessage(p inventory.Profile) string {
	if p == inventory.ProfileOSDetect {
		return msgOSNotImplemented
	}
	return msgVulnNotImplemented
}

// stopRequested is the cancellation checkpoint. The monitor also reports
// a cancelled run context.
func (r *scanRun) stopRequested() bool {
	return r.monitor.ShouldStop()
}

// discover runs the liveness sweep and fills the discovery progress band.
func (r *scanRun) discover() ([]inventory.HostFacts, error) {
	_ = r.reporter.Message(status.MsgDiscovery)
	r.logger.InfoDiscovery("Starting host discovery", r.req.Targets)

	timer := time.Now()
	hosts, err := r.engine.Discover(r.ctx, r.req.Targets)
	if err != nil {
		if r.ctx.Err() != nil || errors.IsCode(err, errors.CodeCanceled) {
			return nil, errCancelled
		}
		r.metrics.IncrementDiscoveryErrors(string(errors.GetCode(err)))
		r.logger.ErrorDiscovery("Host discovery failed", r.req.Targets, err)
		return nil, err
	}
	r.metrics.RecordDiscovery(time.Since(timer), len(hosts))

	if r.stopRequested() {
		return nil, errCancelled
	}

	r.logger.InfoDiscovery("Host discovery completed", r.req.Targets, "hosts_up", len(hosts))
	_ = r.reporter.Progress(status.DiscoveryCeiling, fmt.Sprintf("Discovered %d hosts", len(hosts)))
	return hosts, nil
}

// quickScan reports discovery facts directly, without a second probe.
func (r *scanRun) quickScan() ([]inventory.HostFacts, error) {
	discovered, err := r.discover()
	if err != nil {
		return nil, err
	}

	results := make([]inventory.HostFacts, 0, len(discovered))
	for _, h := range discovered {
		if r.stopRequested() {
			return nil, errCancelled
		}
		entry := inventory.HostFacts{
			Address:    h.Address,
			Reachable:  h.Reachable,
			MACAddress: h.MACAddress,
			DeviceType: inventory.DeviceUnknown,
		}
		r.recordHost(entry)
		results = append(results, entry)
	}
	return results, nil
}

// portScan probes discovered hosts one at a time.
func (r *scanRun) portScan() ([]inventory.HostFacts, error) {
	discovered, err := r.discover()
	if err != nil {
		return nil, err
	}

	total := len(discovered)
	results := make([]inventory.HostFacts, 0, total)
	for i, h := range discovered {
		if r.stopRequested() {
			return nil, errCancelled
		}
		_ = r.reporter.Progress(status.HostProgress(i, total),
			fmt.Sprintf("Scanning ports on host %d/%d", i+1, total))

		facts := r.engine.Characterize(r.ctx, h, inventory.ProfilePortOnly)
		if facts.Missing() {
			continue
		}
		r.recordHost(facts)
		results = append(results, facts)
	}
	return results, nil
}

// fullScan characterizes discovered hosts on a bounded worker pool and
// classifies each one. Results are sorted by discovery order.
func (r *scanRun) fullScan() ([]inventory.HostFacts, error) {
	discovered, err := r.discover()
	if err != nil {
		return nil, err
	}
	total := len(discovered)
	if total == 0 {
		return []inventory.HostFacts{}, nil
	}

	cfg := r.pool
	if cfg.QueueSize < total {
		cfg.QueueSize = total
	}
	pool := workers.New(r.ctx, cfg,
		workers.WithLogger(r.logger),
		workers.WithMetrics(r.metrics))
	pool.Start()

	for i, h := range discovered {
		job := &hostJob{
			index:   i,
			host:    h,
			engine:  r.engine,
			monitor: r.monitor,
		}
		if err := pool.Submit(job); err != nil {
			pool.Abort()
			if r.ctx.Err() != nil {
				return nil, errCancelled
			}
			return nil, errors.WrapScanErrorWithTarget(errors.CodeScanFailed,
				"failed to dispatch host probe", h.Address, err)
		}
	}
	pool.Close()

	collected := make([]*hostJob, 0, total)
	completed := 0
	for res := range pool.Results() {
		completed++
		_ = r.reporter.Progress(status.HostProgress(completed, total),
			fmt.Sprintf("Scanned %d/%d hosts", completed, total))

		if r.stopRequested() {
			pool.Abort()
			return nil, errCancelled
		}

		job, ok := res.Job.(*hostJob)
		if !ok || job.skipped || job.result.Missing() {
			continue
		}
		r.recordHost(job.result)
		collected = append(collected, job)
	}

	if pool.Aborted() {
		return nil, errCancelled
	}
	if err := pool.Shutdown(); err != nil {
		r.logger.Warn("Worker pool did not shut down cleanly", "error", err)
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })
	results := make([]inventory.HostFacts, len(collected))
	for i, job := range collected {
		results[i] = job.result
	}
	return results, nil
}

func (r *scanRun) recordHost(h inventory.HostFacts) {
	profile := string(r.req.Profile)
	r.metrics.IncrementHostsScanned(profile, h.Status(), 1)
	r.metrics.AddOpenPorts(profile, len(h.OpenPorts))
	r.metrics.IncrementDeviceType(string(h.DeviceType))
	if h.Failed() {
		r.logger.WithTarget(h.Address).Warn("Host probe failed", "error", h.ProbeError)
	}
}

// hostJob characterizes and classifies one host on a pool worker. Fields
// written by Execute are read by the orchestrator only after the result
// arrives on the pool's result channel.
type hostJob struct {
	index   int
	host    inventory.HostFacts
	engine  probe.Engine
	monitor cancel.Monitor

	result  inventory.HostFacts
	skipped bool
}

// Execute implements workers.Job. The cancellation monitor is consulted
// before the probe is dispatched. A failed probe is returned as an error so
// the pool can retry it; the failed facts stay in result either way.
func (j *hostJob) Execute(ctx context.Context) error {
	if ctx.Err() != nil || j.monitor.ShouldStop() {
		j.skipped = true
		return nil
	}
	j.skipped = false

	facts := j.engine.Characterize(ctx, j.host, inventory.ProfileFull)
	j.result = facts
	if facts.Failed() {
		return stderrors.New(facts.ProbeError)
	}
	if !facts.Missing() {
		j.result = classify.Host(facts)
	}
	return nil
}

// ID implements workers.Job.
func (j *hostJob) ID() string { return j.host.Address }

// Type implements workers.Job.
func (j *hostJob) Type() string { return characterizeJobType }
