// Package dispatcher runs pipeline jobs in the background on a fixed pool of
// workers fed by a bounded queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-acquirer/internal/pipeline"
	"github.com/JakeFAU/site-acquirer/internal/queue/memory"
	"github.com/JakeFAU/site-acquirer/internal/store"
)

// ErrBusy is returned by Submit when the queue is full.
var ErrBusy = errors.New("dispatcher busy")

// ErrStopped is the abort reason for runs still queued at shutdown.
var ErrStopped = errors.New("dispatcher stopped before run started")

// abortTimeout bounds the bookkeeping for each run aborted at shutdown.
const abortTimeout = 10 * time.Second

// Runner prepares, executes and aborts pipeline runs.
type Runner interface {
	Prepare(ctx context.Context, siteName string) (pipeline.Run, error)
	Execute(ctx context.Context, run pipeline.Run) (store.Job, error)
	Abort(ctx context.Context, run pipeline.Run, reason error) error
}

// Config sizes the pool.
type Config struct {
	Workers    int
	QueueDepth int
}

// Dispatcher fans queued runs out to workers.
type Dispatcher struct {
	runner  Runner
	queue   *memory.Queue[pipeline.Run]
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher. Workers and QueueDepth default to 1 and 16.
func New(cfg Config, runner Runner, logger *zap.Logger) (*Dispatcher, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		runner:  runner,
		queue:   memory.NewQueue[pipeline.Run](cfg.QueueDepth),
		workers: cfg.Workers,
		logger:  logger,
	}, nil
}

// Submit creates a job for siteName and queues it. The returned job is in
// started status. When the queue is full the job is finished as failed
// and ErrBusy is returned.
func (d *Dispatcher) Submit(ctx context.Context, siteName string) (store.Job, error) {
	run, err := d.runner.Prepare(ctx, siteName)
	if err != nil {
		return store.Job{}, err
	}
	if err := d.queue.TryEnqueue(run); err != nil {
		reason := fmt.Errorf("%w: %w", ErrBusy, err)
		if abortErr := d.runner.Abort(context.WithoutCancel(ctx), run, reason); abortErr != nil {
			d.logger.Error("abort job", zap.String("job_id", run.Job.ID.String()), zap.Error(abortErr))
		}
		return run.Job, reason
	}
	d.logger.Info("job queued", zap.String("site", siteName), zap.String("job_id", run.Job.ID.String()))
	return run.Job, nil
}

// Pending reports how many runs wait for a worker.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Run starts the workers and blocks until ctx ends and every worker has
// returned. Runs in flight see ctx canceled; runs still queued are aborted.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id)
		}(i)
	}
	<-ctx.Done()
	d.queue.Close()
	wg.Wait()
	leftover := d.queue.Drain()
	if len(leftover) > 0 {
		d.logger.Warn("aborting queued jobs at shutdown", zap.Int("count", len(leftover)))
	}
	for _, run := range leftover {
		d.abort(ctx, run, d.logger)
	}
}

// abort finalizes a run that will never execute. ctx may already be done.
func (d *Dispatcher) abort(ctx context.Context, run pipeline.Run, logger *zap.Logger) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	if err := d.runner.Abort(abortCtx, run, ErrStopped); err != nil {
		logger.Error("abort job", zap.String("job_id", run.Job.ID.String()), zap.Error(err))
	}
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	logger := d.logger.With(zap.Int("worker", id))
	for {
		run, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			d.abort(ctx, run, logger)
			return
		}
		logger.Debug("dequeued job", zap.String("job_id", run.Job.ID.String()))
		if _, err := d.runner.Execute(ctx, run); err != nil {
			logger.Warn("run ended with error", zap.String("job_id", run.Job.ID.String()), zap.Error(err))
		}
	}
}
