package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/observability"
	"github.com/example/o2c-lite/internal/storage"
)

// JobHandler runs one background job. The returned map is stored as the
// job result.
type JobHandler func(ctx context.Context, job *domain.Job) (map[string]any, error)

// DispatcherConfig holds configuration for the Dispatcher.
type DispatcherConfig struct {
	PollInterval        time.Duration // How often to poll for pending jobs
	BatchSize           int           // Jobs claimed per poll
	MaxConcurrency      int64         // Jobs running at once
	MaxRetries          int           // Attempts before a job is failed
	JobTimeout          time.Duration // Budget for one job run
	QuoteExpiryInterval time.Duration // How often to expire stale quotes
	StaleJobAfter       time.Duration // Running jobs untouched this long are requeued
}

// DefaultDispatcherConfig returns reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval:        time.Second,
		BatchSize:           10,
		MaxConcurrency:      4,
		MaxRetries:          3,
		JobTimeout:          30 * time.Second,
		QuoteExpiryInterval: time.Hour,
		StaleJobAfter:       5 * time.Minute,
	}
}

// Dispatcher polls the job queue and runs jobs with bounded concurrency.
// Jobs are fire-and-forget: nothing reports back to the request that
// enqueued them.
type Dispatcher struct {
	storage  storage.Storage
	config   DispatcherConfig
	metrics  *observability.Metrics
	sem      *semaphore.Weighted
	handlers map[string]JobHandler
	mu       sync.RWMutex
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(store storage.Storage, config DispatcherConfig, metrics *observability.Metrics) *Dispatcher {
	def := DefaultDispatcherConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if config.QuoteExpiryInterval <= 0 {
		config.QuoteExpiryInterval = def.QuoteExpiryInterval
	}
	if config.StaleJobAfter <= 0 {
		config.StaleJobAfter = def.StaleJobAfter
	}
	// a claimed batch may queue behind the semaphore before it runs, so a
	// live job can sit in running for this long
	waves := (int64(config.BatchSize) + config.MaxConcurrency - 1) / config.MaxConcurrency
	if floor := time.Duration(waves+1) * config.JobTimeout; config.StaleJobAfter < floor {
		config.StaleJobAfter = floor
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	return &Dispatcher{
		storage:  store,
		config:   config,
		metrics:  metrics,
		sem:      semaphore.NewWeighted(config.MaxConcurrency),
		handlers: make(map[string]JobHandler),
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// Register binds a handler to a job kind.
func (d *Dispatcher) Register(kind string, h JobHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = h
}

// Start begins the dispatcher loops.
func (d *Dispatcher) Start() {
	d.wg.Add(2)
	go d.pollLoop()
	go d.maintenanceLoop()
}

// Stop gracefully stops the dispatcher and waits for running jobs.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// pollLoop polls for pending jobs and runs them.
func (d *Dispatcher) pollLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			if _, err := d.RunOnce(context.Background()); err != nil {
				log.Printf("dispatcher: error processing pending jobs: %v", err)
			}
		}
	}
}

// maintenanceLoop periodically expires quotes past their validity and
// requeues jobs orphaned in running, e.g. by a crash mid-run. Orphans are
// swept once at startup too.
func (d *Dispatcher) maintenanceLoop() {
	defer d.wg.Done()

	expiry := time.NewTicker(d.config.QuoteExpiryInterval)
	defer expiry.Stop()
	sweep := time.NewTicker(d.config.StaleJobAfter)
	defer sweep.Stop()

	d.reclaim()
	for {
		select {
		case <-d.stopCh:
			return
		case <-expiry.C:
			n, err := d.ExpireQuotes(context.Background())
			if err != nil {
				log.Printf("dispatcher: error expiring quotes: %v", err)
			} else if n > 0 {
				log.Printf("dispatcher: expired %d quotes", n)
			}
		case <-sweep.C:
			d.reclaim()
		}
	}
}

func (d *Dispatcher) reclaim() {
	n, err := d.ReclaimStaleJobs(context.Background())
	if err != nil {
		log.Printf("dispatcher: error reclaiming stale jobs: %v", err)
	} else if n > 0 {
		log.Printf("dispatcher: requeued %d jobs stuck in running", n)
	}
}

// RunOnce claims one batch of pending jobs, runs them and waits for them
// to finish. It returns the number of jobs run.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	jobs, err := d.claim(ctx)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			// not started; hand it back to the queue
			d.release(context.WithoutCancel(ctx), job)
			continue
		}
		wg.Add(1)
		go func(job *domain.Job) {
			defer wg.Done()
			defer d.sem.Release(1)
			d.run(context.WithoutCancel(ctx), job)
		}(job)
	}
	wg.Wait()
	return len(jobs), nil
}

// claim moves a batch of pending jobs to running in one transaction so a
// concurrent poller cannot pick them up twice.
func (d *Dispatcher) claim(ctx context.Context) ([]*domain.Job, error) {
	uow, err := d.storage.BeginImmediate(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()

	jobs, err := uow.Jobs().GetPending(ctx, d.config.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		job.State = domain.JobStateRunning
		if err := uow.Jobs().Update(ctx, job); err != nil {
			return nil, err
		}
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	d.metrics.JobQueueDepth().Set(int64(len(jobs)))
	return jobs, nil
}

func (d *Dispatcher) release(ctx context.Context, job *domain.Job) {
	job.State = domain.JobStatePending
	if err := d.save(ctx, job); err != nil {
		log.Printf("dispatcher: error releasing job %s: %v", job.ID, err)
	}
}

// run executes job and records the outcome. Business rule failures are not
// retried; other failures go back to the queue until MaxRetries is reached.
func (d *Dispatcher) run(ctx context.Context, job *domain.Job) {
	d.mu.RLock()
	h, ok := d.handlers[job.Kind]
	d.mu.RUnlock()

	var result map[string]any
	var err error
	if !ok {
		err = fmt.Errorf("%w: no handler for job kind %q", domain.ErrInvalidArgument, job.Kind)
	} else {
		jctx, cancel := context.WithTimeout(ctx, d.config.JobTimeout)
		result, err = safeRun(jctx, h, job)
		cancel()
	}

	label := "complete"
	switch {
	case err == nil:
		job.State = domain.JobStateComplete
		job.Result = result
		job.ErrorMessage = ""
	case domain.IsBusinessRule(err):
		job.State = domain.JobStateFailed
		job.ErrorMessage = err.Error()
		label = "failed"
	default:
		job.RetryCount++
		job.ErrorMessage = err.Error()
		if job.RetryCount >= d.config.MaxRetries {
			job.State = domain.JobStateFailed
			label = "failed"
		} else {
			job.State = domain.JobStatePending
			label = "retry"
		}
	}
	d.metrics.JobsProcessed().WithLabels(job.Kind + "/" + label).Inc()
	if err != nil {
		log.Printf("dispatcher: job %s (%s) %s after attempt %d: %v", job.ID, job.Kind, label, job.RetryCount, err)
	} else {
		log.Printf("dispatcher: job %s (%s) complete", job.ID, job.Kind)
	}

	if err := d.save(ctx, job); err != nil {
		log.Printf("dispatcher: error saving job %s: %v", job.ID, err)
	}
}

func safeRun(ctx context.Context, h JobHandler, job *domain.Job) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (d *Dispatcher) save(ctx context.Context, job *domain.Job) error {
	uow, err := d.storage.BeginImmediate(ctx)
	if err != nil {
		return err
	}
	defer uow.Rollback()
	if err := uow.Jobs().Update(ctx, job); err != nil {
		return err
	}
	return uow.Commit()
}

// ExpireQuotes marks pending quotes past their validity as expired.
func (d *Dispatcher) ExpireQuotes(ctx context.Context) (int, error) {
	uow, err := d.storage.BeginImmediate(ctx)
	if err != nil {
		return 0, err
	}
	defer uow.Rollback()

	n, err := uow.Quotes().ExpireBefore(ctx, d.now())
	if err != nil {
		return 0, err
	}
	return n, uow.Commit()
}

// ReclaimStaleJobs puts running jobs not updated within StaleJobAfter back
// in the queue. Job handlers are idempotent, so a rerun is safe.
func (d *Dispatcher) ReclaimStaleJobs(ctx context.Context) (int, error) {
	uow, err := d.storage.BeginImmediate(ctx)
	if err != nil {
		return 0, err
	}
	defer uow.Rollback()

	n, err := uow.Jobs().ReclaimStale(ctx, d.now().Add(-d.config.StaleJobAfter))
	if err != nil {
		return 0, err
	}
	if err := uow.Commit(); err != nil {
		return 0, err
	}
	d.metrics.JobsProcessed().WithLabels("any/reclaimed").Add(int64(n))
	return n, nil
}
