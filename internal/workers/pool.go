// Package workers provides a bounded worker pool for concurrent per-host
// probing in netinventory. It supports job queuing, retries, rate limiting,
// graceful shutdown and abort, and reports into the logging and metrics
// systems.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/netinventory/internal/logging"
	"github.com/anstrom/netinventory/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job. Job is the executed job
// itself so the consumer can read any output it collected.
type Result struct {
	Job      Job
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of jobs per second (0 = no limit).
	RateLimit int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            10,
		QueueSize:       100,
		MaxRetries:      0,
		RetryDelay:      time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimit:       0,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Size <= 0 {
		c.Size = def.Size
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// Pool manages a pool of worker goroutines for concurrent job execution.
//
// Results are delivered on a channel buffered to QueueSize that is closed
// once every worker has exited, so consumers can range over Results. After
// Abort, results of jobs still in flight are dropped.
type Pool struct {
	config      Config
	jobs        chan Job
	results     chan Result
	workers     []*worker
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	rateLimiter *time.Ticker
	logger      *logging.Logger
	metrics     *metrics.Metrics
	startOnce   sync.Once
	closeOnce   sync.Once
	closed      atomic.Bool
}

// worker represents a single worker goroutine.
type worker struct {
	id   int
	pool *Pool
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// New creates a new worker pool. Cancelling parent aborts the pool.
func New(parent context.Context, config Config, opts ...Option) *Pool {
	if parent == nil {
		parent = context.Background()
	}
	config = config.normalized()
	ctx, cancel := context.WithCancel(parent)

	pool := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		workers: make([]*worker, config.Size),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(pool)
	}
	pool.logger = pool.logger.WithComponent("workers")

	if config.RateLimit > 0 {
		interval := time.Second / time.Duration(config.RateLimit)
		pool.rateLimiter = time.NewTicker(interval)
	}

	for i := 0; i < config.Size; i++ {
		pool.workers[i] = &worker{
			id:   i,
			pool: pool,
		}
	}

	return pool
}

// Start begins the worker pool operations.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		for _, w := range p.workers {
			p.wg.Add(1)
			go w.run()
		}

		go func() {
			p.wg.Wait()
			close(p.results)
			if p.rateLimiter != nil {
				p.rateLimiter.Stop()
			}
			close(p.done)
		}()
	})
}

// Submit adds a job to the worker pool queue.
func (p *Pool) Submit(job Job) error {
	if p.closed.Load() {
		return fmt.Errorf("worker pool is closed")
	}
	if p.ctx.Err() != nil {
		return fmt.Errorf("worker pool is shutting down")
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Results returns the channel of job results. It is closed after all workers
// have exited.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs. Workers drain the queue and exit.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.jobs)
	})
}

// Abort cancels the pool without waiting. Queued jobs are not started and
// results of jobs already running are dropped.
func (p *Pool) Abort() {
	p.Close()
	p.cancel()
}

// Aborted reports whether the pool context has been cancelled.
func (p *Pool) Aborted() bool {
	return p.ctx.Err() != nil
}

// Shutdown closes the queue and waits up to ShutdownTimeout for workers to
// finish, then aborts whatever is left. Results not consumed by the caller
// are discarded.
func (p *Pool) Shutdown() error {
	p.Start()
	p.Close()

	go func() {
		for range p.results {
		}
	}()

	select {
	case <-p.done:
		p.cancel()
		p.logger.Debug("Worker pool shutdown completed")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timeout, aborting remaining jobs")
		p.cancel()
		<-p.done
		return fmt.Errorf("worker pool shutdown timed out after %s", p.config.ShutdownTimeout)
	}
}

// worker.run executes the worker loop.
func (w *worker) run() {
	defer w.pool.wg.Done()

	w.pool.metrics.AddActiveWorkers(1)
	defer w.pool.metrics.AddActiveWorkers(-1)

	for {
		select {
		case job, ok := <-w.pool.jobs:
			if !ok {
				return
			}
			if w.pool.ctx.Err() != nil {
				w.pool.metrics.IncrementJobs(metrics.JobDropped)
				return
			}
			w.executeJob(job)

		case <-w.pool.ctx.Done():
			return
		}
	}
}

// executeJob executes a single job with retry logic and delivers its result.
func (w *worker) executeJob(job Job) {
	p := w.pool
	timer := metrics.NewTimer(p.metrics.ObserveJobDuration)

	if p.rateLimiter != nil {
		select {
		case <-p.rateLimiter.C:
		case <-p.ctx.Done():
			p.metrics.IncrementJobs(metrics.JobDropped)
			return
		}
	}

	var lastErr error
	var retries int

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		lastErr = job.Execute(p.ctx)
		retries = attempt
		if lastErr == nil {
			break
		}

		if attempt < p.config.MaxRetries {
			p.logger.Debug("Job failed, retrying",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"attempt", attempt+1,
				"max_retries", p.config.MaxRetries,
				"error", lastErr)

			select {
			case <-time.After(p.config.RetryDelay):
			case <-p.ctx.Done():
				p.metrics.IncrementJobs(metrics.JobDropped)
				return
			}
		}
	}

	result := Result{
		Job:      job,
		JobID:    job.ID(),
		JobType:  job.Type(),
		Error:    lastErr,
		Duration: timer.Stop(),
		Retries:  retries,
	}

	if p.ctx.Err() != nil {
		p.metrics.IncrementJobs(metrics.JobDropped)
		return
	}

	select {
	case p.results <- result:
	case <-p.ctx.Done():
		p.metrics.IncrementJobs(metrics.JobDropped)
		return
	}

	if lastErr != nil {
		p.metrics.IncrementJobs(metrics.JobFailed)
		p.logger.Error("Job failed after retries",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"retries", retries,
			"error", lastErr,
			"worker_id", w.id)
		return
	}

	p.metrics.IncrementJobs(metrics.JobSucceeded)
	p.logger.Debug("Job completed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"duration", result.Duration,
		"worker_id", w.id)
}
