// Package async runs invoice extraction jobs on a bounded worker pool, each
// job under its own deadline.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one document to extract.
type Job struct {
	ID          string // becomes the request id; generated when empty
	Path        string
	SubmittedAt time.Time
}

// Result is delivered to the result handler once per job.
type Result struct {
	Job     Job
	Invoice *entity.InvoiceResult
	Err     error
	Elapsed time.Duration
}

// FileProcessor is the work each job performs. *pipeline.Processor satisfies it.
type FileProcessor interface {
	ProcessFile(ctx context.Context, path string) (*entity.InvoiceResult, error)
}

type Queue struct {
	proc     FileProcessor
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	onResult func(Result)

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithJobTimeout sets the per-document deadline handed to the processor.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithResultHandler registers fn for finished jobs. fn is called from worker
// goroutines and must be safe for concurrent use.
func WithResultHandler(fn func(Result)) Option {
	return func(q *Queue) { q.onResult = fn }
}

func NewQueue(proc FileProcessor, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 90 * time.Second,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *Queue) run(workerID int, job Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(common.WithRequestID(context.Background(), job.ID), q.timeout)
	inv, err := q.process(ctx, job)
	cancel()

	res := Result{Job: job, Invoice: inv, Err: err, Elapsed: time.Since(start)}
	if err != nil {
		q.logger.Error("queue.job.failed", "worker_id", workerID, "req_id", job.ID, "path", job.Path, "err", err)
	} else {
		q.logger.Info("queue.job.ok", "worker_id", workerID, "req_id", job.ID, "path", job.Path,
			"rows", len(inv.Rows), "elapsed_ms", res.Elapsed.Milliseconds())
	}
	if q.onResult != nil {
		q.onResult(res)
	}
}

// process keeps a panicking job from taking its worker down.
func (q *Queue) process(ctx context.Context, job Job) (inv *entity.InvoiceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: job panicked: %v", common.ErrInternal, r)
		}
	}()
	return q.proc.ProcessFile(ctx, job.Path)
}

// Enqueue submits job, blocking while the queue is full until ctx is done.
// The job (with its assigned ID) is returned.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "path", job.Path)
		return job, ErrQueueClosed
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queue.job.queued", "req_id", job.ID, "path", job.Path)
		return job, nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "path", job.Path)
	select {
	case q.ch <- job:
		return job, nil
	case <-ctx.Done():
		return job, ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain or ctx to end.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
		return ctx.Err()
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
		return nil
	}
}
