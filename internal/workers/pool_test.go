package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netinventory/internal/logging"
	"github.com/anstrom/netinventory/internal/metrics"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	err      error
	executed int32
}

func NewMockJob(id, jobType string, duration time.Duration, err error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  jobType,
		duration: duration,
		err:      err,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&m.executed, 1)
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func newTestPool(t *testing.T, config Config) *Pool {
	t.Helper()
	return New(context.Background(), config, WithLogger(logging.NewDiscard()))
}

func collect(t *testing.T, pool *Pool, timeout time.Duration) []Result {
	t.Helper()
	var results []Result
	deadline := time.After(timeout)
	for {
		select {
		case r, ok := <-pool.Results():
			if !ok {
				return results
			}
			results = append(results, r)
		case <-deadline:
			t.Fatalf("results channel not closed within %s", timeout)
		}
	}
}

func TestNewPool(t *testing.T) {
	t.Run("creates pool with valid configuration", func(t *testing.T) {
		config := Config{
			Size:            5,
			QueueSize:       100,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       10,
		}

		pool := newTestPool(t, config)

		assert.NotNil(t, pool)
		assert.Equal(t, config.Size, len(pool.workers))
		assert.Equal(t, config.QueueSize, cap(pool.jobs))
		assert.Equal(t, config.QueueSize, cap(pool.results))
		assert.NotNil(t, pool.rateLimiter)
	})

	t.Run("zero values fall back to defaults", func(t *testing.T) {
		pool := newTestPool(t, Config{})

		def := DefaultConfig()
		assert.Equal(t, def.Size, len(pool.workers))
		assert.Equal(t, def.QueueSize, cap(pool.jobs))
		assert.NotNil(t, pool.ctx)
		assert.Nil(t, pool.rateLimiter)
	})
}

func TestPoolLifecycle(t *testing.T) {
	t.Run("start and shutdown pool successfully", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 2, QueueSize: 10, ShutdownTimeout: 2 * time.Second})
		pool.Start()

		job := NewMockJob("test-1", "test", 10*time.Millisecond, nil)
		require.NoError(t, pool.Submit(job))

		pool.Close()
		results := collect(t, pool, time.Second)

		require.Len(t, results, 1)
		assert.Equal(t, int32(1), job.ExecutedCount())
		assert.NoError(t, pool.Shutdown())
	})

	t.Run("handles multiple start calls gracefully", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})

		pool.Start()
		pool.Start()

		assert.NoError(t, pool.Shutdown())
	})
}

func TestJobSubmission(t *testing.T) {
	t.Run("returns error when submitting to closed pool", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		pool.Start()
		require.NoError(t, pool.Shutdown())

		assert.Error(t, pool.Submit(NewMockJob("late", "test", 0, nil)))
	})

	t.Run("returns error when queue is full", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		// Not started, so nothing drains the queue.
		require.NoError(t, pool.Submit(NewMockJob("a", "test", 0, nil)))
		err := pool.Submit(NewMockJob("b", "test", 0, nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue is full")
		_ = pool.Shutdown()
	})

	t.Run("returns error after abort", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 4})
		pool.Start()
		pool.Abort()
		assert.Error(t, pool.Submit(NewMockJob("x", "test", 0, nil)))
		assert.True(t, pool.Aborted())
	})
}

func TestJobExecution(t *testing.T) {
	t.Run("retries failed jobs up to the limit", func(t *testing.T) {
		config := Config{
			Size:            2,
			QueueSize:       10,
			MaxRetries:      3,
			RetryDelay:      5 * time.Millisecond,
			ShutdownTimeout: 2 * time.Second,
		}
		pool := newTestPool(t, config)
		pool.Start()

		failingJob := NewMockJob("failing-job", "test", time.Millisecond, errors.New("job failed"))
		require.NoError(t, pool.Submit(failingJob))
		pool.Close()

		results := collect(t, pool, 2*time.Second)
		require.Len(t, results, 1)
		assert.Error(t, results[0].Error)
		assert.Equal(t, config.MaxRetries, results[0].Retries)
		assert.Equal(t, int32(config.MaxRetries+1), failingJob.ExecutedCount())
	})

	t.Run("successful job runs once", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 1, MaxRetries: 3})
		pool.Start()

		job := NewMockJob("ok", "test", 0, nil)
		require.NoError(t, pool.Submit(job))
		pool.Close()

		results := collect(t, pool, time.Second)
		require.Len(t, results, 1)
		assert.NoError(t, results[0].Error)
		assert.Equal(t, 0, results[0].Retries)
		assert.Same(t, job, results[0].Job.(*MockJob))
	})
}

func TestConcurrentJobProcessing(t *testing.T) {
	const numJobs = 20
	pool := newTestPool(t, Config{Size: 5, QueueSize: numJobs, ShutdownTimeout: 3 * time.Second})
	pool.Start()

	jobs := make([]*MockJob, numJobs)
	start := time.Now()
	for i := 0; i < numJobs; i++ {
		jobs[i] = NewMockJob(fmt.Sprintf("concurrent-job-%d", i), "concurrent", 50*time.Millisecond, nil)
		require.NoError(t, pool.Submit(jobs[i]))
	}
	pool.Close()

	results := collect(t, pool, 3*time.Second)
	duration := time.Since(start)

	// 5 workers and 20 jobs of 50ms is four batches.
	assert.Less(t, duration, 800*time.Millisecond, "Concurrent processing should be faster than sequential")
	assert.Len(t, results, numJobs)

	seen := make(map[string]bool)
	for _, r := range results {
		seen[r.JobID] = true
	}
	assert.Len(t, seen, numJobs, "every job delivers exactly one result")

	for i, job := range jobs {
		assert.Equal(t, int32(1), job.ExecutedCount(), "Job %d should be executed", i)
	}
}

func TestResultsAreNotDroppedForSlowConsumer(t *testing.T) {
	const numJobs = 30
	pool := newTestPool(t, Config{Size: 10, QueueSize: numJobs})
	pool.Start()

	for i := 0; i < numJobs; i++ {
		require.NoError(t, pool.Submit(NewMockJob(fmt.Sprintf("job-%d", i), "test", 0, nil)))
	}
	pool.Close()

	// Let every worker finish before reading anything.
	time.Sleep(100 * time.Millisecond)

	results := collect(t, pool, time.Second)
	assert.Len(t, results, numJobs)
}

func TestAbort(t *testing.T) {
	t.Run("drops results of in-flight jobs", func(t *testing.T) {
		m := metrics.NewPrometheusMetrics()
		pool := New(context.Background(), Config{Size: 2, QueueSize: 10},
			WithLogger(logging.NewDiscard()), WithMetrics(m))
		pool.Start()

		for i := 0; i < 10; i++ {
			require.NoError(t, pool.Submit(NewMockJob(fmt.Sprintf("slow-%d", i), "slow", 5*time.Second, nil)))
		}
		time.Sleep(20 * time.Millisecond)

		start := time.Now()
		pool.Abort()
		results := collect(t, pool, time.Second)

		assert.Empty(t, results)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("parent context cancellation aborts the pool", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		pool := New(ctx, Config{Size: 1, QueueSize: 2}, WithLogger(logging.NewDiscard()))
		pool.Start()

		require.NoError(t, pool.Submit(NewMockJob("slow", "slow", 5*time.Second, nil)))
		time.Sleep(10 * time.Millisecond)
		cancel()

		assert.Empty(t, collect(t, pool, time.Second))
		assert.True(t, pool.Aborted())
	})
}

func TestGracefulShutdown(t *testing.T) {
	t.Run("waits for in-progress jobs to complete", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 2, QueueSize: 5, ShutdownTimeout: 3 * time.Second})
		pool.Start()

		shortJob1 := NewMockJob("short-1", "short", 10*time.Millisecond, nil)
		shortJob2 := NewMockJob("short-2", "short", 10*time.Millisecond, nil)
		require.NoError(t, pool.Submit(shortJob1))
		require.NoError(t, pool.Submit(shortJob2))

		start := time.Now()
		err := pool.Shutdown()

		assert.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second, "Should not timeout")
		assert.Equal(t, int32(1), shortJob1.ExecutedCount())
		assert.Equal(t, int32(1), shortJob2.ExecutedCount())
	})

	t.Run("respects shutdown timeout", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 2, ShutdownTimeout: 100 * time.Millisecond})
		pool.Start()

		require.NoError(t, pool.Submit(NewMockJob("very-long", "long", 5*time.Second, nil)))
		time.Sleep(20 * time.Millisecond)

		start := time.Now()
		err := pool.Shutdown()

		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second, "Should respect shutdown timeout")
	})
}

func TestRateLimiting(t *testing.T) {
	const numJobs = 6
	config := Config{Size: 3, QueueSize: numJobs, RateLimit: 20}
	pool := newTestPool(t, config)
	pool.Start()

	start := time.Now()
	for i := 0; i < numJobs; i++ {
		require.NoError(t, pool.Submit(NewMockJob(fmt.Sprintf("rate-job-%d", i), "rate", 0, nil)))
	}
	pool.Close()

	results := collect(t, pool, 3*time.Second)
	duration := time.Since(start)

	// 20 jobs per second means at least 50ms between job starts.
	assert.Len(t, results, numJobs)
	assert.GreaterOrEqual(t, duration, 250*time.Millisecond, "Rate limiting should slow down job processing")
}

func TestConcurrentSubmission(t *testing.T) {
	const numRoutines = 10
	const jobsPerRoutine = 5
	const totalJobs = numRoutines * jobsPerRoutine

	pool := newTestPool(t, Config{Size: 3, QueueSize: totalJobs, ShutdownTimeout: 3 * time.Second})
	pool.Start()

	var wg sync.WaitGroup
	jobs := make([]*MockJob, totalJobs)
	for r := 0; r < numRoutines; r++ {
		wg.Add(1)
		go func(routineID int) {
			defer wg.Done()
			for j := 0; j < jobsPerRoutine; j++ {
				jobID := routineID*jobsPerRoutine + j
				jobs[jobID] = NewMockJob(fmt.Sprintf("concurrent-%d-%d", routineID, j), "concurrent", time.Millisecond, nil)
				assert.NoError(t, pool.Submit(jobs[jobID]))
			}
		}(r)
	}
	wg.Wait()
	pool.Close()

	assert.Len(t, collect(t, pool, 3*time.Second), totalJobs)
	for i, job := range jobs {
		assert.Equal(t, int32(1), job.ExecutedCount(), "Job %d should be executed", i)
	}
}

func TestPoolShutdownEdgeCases(t *testing.T) {
	t.Run("shutdown without start is safe", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		assert.NoError(t, pool.Shutdown())
	})

	t.Run("multiple shutdown calls are safe", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		pool.Start()

		assert.NoError(t, pool.Shutdown())
		assert.NoError(t, pool.Shutdown())
		assert.NoError(t, pool.Shutdown())
	})

	t.Run("abort after shutdown is safe", func(t *testing.T) {
		pool := newTestPool(t, Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		pool.Start()
		require.NoError(t, pool.Shutdown())
		pool.Abort()
		assert.True(t, pool.Aborted())
	})
}

func BenchmarkPoolThroughput(b *testing.B) {
	pool := New(context.Background(), Config{Size: 10, QueueSize: b.N + 1}, WithLogger(logging.NewDiscard()))
	pool.Start()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(NewMockJob(fmt.Sprintf("bench-%d", i), "bench", 0, nil))
	}
	pool.Close()
	for range pool.Results() {
	}
}
