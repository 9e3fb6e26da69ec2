package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type procFunc func(ctx context.Context, path string) (*entity.InvoiceResult, error)

func (f procFunc) ProcessFile(ctx context.Context, path string) (*entity.InvoiceResult, error) {
	return f(ctx, path)
}

type collector struct {
	mu      sync.Mutex
	results map[string]Result
}

func (c *collector) add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.results == nil {
		c.results = make(map[string]Result)
	}
	c.results[r.Job.Path] = r
}

func TestQueueProcessesAllJobs(t *testing.T) {
	t.Parallel()
	c := &collector{}
	proc := procFunc(func(ctx context.Context, path string) (*entity.InvoiceResult, error) {
		return &entity.InvoiceResult{RequestID: common.RequestIDFromContext(ctx), Source: path}, nil
	})
	q := NewQueue(proc, quiet, WithWorkers(3), WithQueueSize(2), WithResultHandler(c.add))

	paths := []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "e.pdf"}
	for _, p := range paths {
		job, err := q.Enqueue(context.Background(), Job{Path: p})
		if err != nil {
			t.Fatalf("Enqueue %s: %v", p, err)
		}
		if job.ID == "" || job.SubmittedAt.IsZero() {
			t.Errorf("job not stamped: %+v", job)
		}
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if len(c.results) != len(paths) {
		t.Fatalf("got %d results", len(c.results))
	}
	for _, p := range paths {
		r := c.results[p]
		if r.Err != nil || r.Invoice.Source != p || r.Invoice.RequestID != r.Job.ID {
			t.Errorf("result %s = %+v", p, r)
		}
	}
}

func TestQueueAppliesJobTimeout(t *testing.T) {
	t.Parallel()
	c := &collector{}
	proc := procFunc(func(ctx context.Context, _ string) (*entity.InvoiceResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q := NewQueue(proc, quiet, WithWorkers(1), WithJobTimeout(20*time.Millisecond), WithResultHandler(c.add))
	if _, err := q.Enqueue(context.Background(), Job{Path: "slow.pdf"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r := c.results["slow.pdf"]; !errors.Is(r.Err, context.DeadlineExceeded) {
		t.Errorf("err = %v", r.Err)
	}
}

func TestQueueRecoversPanics(t *testing.T) {
	t.Parallel()
	c := &collector{}
	proc := procFunc(func(context.Context, string) (*entity.InvoiceResult, error) {
		panic("boom")
	})
	q := NewQueue(proc, quiet, WithWorkers(1), WithResultHandler(c.add))
	_, _ = q.Enqueue(context.Background(), Job{Path: "x.pdf"})
	_, _ = q.Enqueue(context.Background(), Job{Path: "y.pdf"})
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"x.pdf", "y.pdf"} {
		if !errors.Is(c.results[p].Err, common.ErrInternal) {
			t.Errorf("%s err = %v", p, c.results[p].Err)
		}
	}
}

func TestEnqueueAfterShutdown(t *testing.T) {
	t.Parallel()
	q := NewQueue(procFunc(func(context.Context, string) (*entity.InvoiceResult, error) { return nil, nil }), quiet)
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(context.Background(), Job{Path: "late.pdf"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestEnqueueBackpressureHonorsContext(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	proc := procFunc(func(context.Context, string) (*entity.InvoiceResult, error) {
		<-release
		return &entity.InvoiceResult{}, nil
	})
	q := NewQueue(proc, quiet, WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(release)
		_ = q.Shutdown(context.Background())
	}()

	// one job occupies the worker, one fills the buffer
	_, _ = q.Enqueue(context.Background(), Job{Path: "1.pdf"})
	_, _ = q.Enqueue(context.Background(), Job{Path: "2.pdf"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// the worker may not have picked up job 1 yet; a third and fourth job
	// guarantee the buffer is full
	_, err3 := q.Enqueue(ctx, Job{Path: "3.pdf"})
	_, err4 := q.Enqueue(ctx, Job{Path: "4.pdf"})
	if !errors.Is(err3, context.DeadlineExceeded) && !errors.Is(err4, context.DeadlineExceeded) {
		t.Fatalf("errs = %v, %v", err3, err4)
	}
}
