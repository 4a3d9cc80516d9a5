package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/storage"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("orchestrator stopped")

// Runner executes one translation run.
type Runner interface {
	Run(ctx context.Context, in pipeline.Input, emit pipeline.Emit) (*pipeline.Result, error)
}

// Storage is the subset of the storage client used by workers.
type Storage interface {
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	UpdateJob(ctx context.Context, id string, upd storage.JobUpdate) error
}

// Config sizes the worker pool.
type Config struct {
	Workers      int
	QueueSize    int
	TTL          time.Duration
	ResultBucket string        // Empty skips uploading results.
	CleanupEvery time.Duration // Defaults to five minutes.
}

// Orchestrator manages the translation job queue.
type Orchestrator struct {
	jobs  *Store
	queue chan *Job
	run   Runner
	store Storage
	log   *slog.Logger
	cfg   Config

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates the job queue. store may be nil when no storage
// backend is configured.
func NewOrchestrator(cfg Config, run Runner, store Storage, log *slog.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = 5 * time.Minute
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		jobs:  NewStore(cfg.TTL),
		queue: make(chan *Job, cfg.QueueSize),
		run:   run,
		store: store,
		log:   log,
		cfg:   cfg,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.cfg.Workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o.run, o.store, o.cfg.ResultBucket, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.CleanupEvery)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop cancels running jobs and waits for the workers to exit. Jobs still
// waiting in the queue are failed as cancelled so no job stays queued.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	w := NewWorker(o.run, o.store, o.cfg.ResultBucket, o.log)
	for job := range o.queue {
		o.log.Warn("job cancelled before start", "job_id", job.ID)
		w.mirror(context.Background(), o.log.With("job_id", job.ID), job.ID, storage.JobUpdate{Status: string(StatusError), ErrorMessage: errShutdown})
		job.Fail(document.KindCancelled, errShutdown)
	}
}

const errShutdown = "server shut down before the job started"

// Submit queues a new job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return ErrStopped
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		o.log.Info("job queued", "job_id", job.ID, "source", job.Source, "target", job.Target, "queue_depth", len(o.queue))
		return nil
	default:
		job.Fail("QueueFull", ErrQueueFull.Error())
		return fmt.Errorf("%w (%d)", ErrQueueFull, o.cfg.QueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// JobCount returns the number of tracked jobs.
func (o *Orchestrator) JobCount() int {
	return o.jobs.Len()
}
