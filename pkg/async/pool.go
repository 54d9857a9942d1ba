package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotStarted marks a task that never ran because the pool's context
// ended first. Such errors also wrap the context error.
var ErrNotStarted = errors.New("task not started")

// PoolConfig configures a WorkerPool.
type PoolConfig struct {
	Workers int
	// Name labels log lines.
	Name string
	// Timeout bounds each task. Zero means no per-task timeout.
	Timeout time.Duration
	Logger  logrus.FieldLogger
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// WorkerPool runs submitted tasks on a fixed number of goroutines. Task
// errors, panics and tasks left queued at cancellation are collected and
// returned by Wait.
type WorkerPool struct {
	cfg    PoolConfig
	log    logrus.FieldLogger
	workCh chan func(context.Context) error
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	errs []error

	closeOnce sync.Once
}

// NewWorkerPool starts the workers. Call Wait to release them.
func NewWorkerPool(ctx context.Context, cfg PoolConfig) *WorkerPool {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		cfg:    cfg,
		log:    cfg.Logger.WithField("pool", cfg.Name),
		workCh: make(chan func(context.Context) error, cfg.Workers*2),
		doneCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < cfg.Workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

func (p *WorkerPool) notStarted() error {
	return fmt.Errorf("worker pool %s: %w: %w", p.cfg.Name, ErrNotStarted, p.ctx.Err())
}

// Submit queues a task. It blocks while the queue is full and fails with
// ErrNotStarted once the pool's context is done.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	select {
	case <-p.ctx.Done():
		return p.notStarted()
	default:
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return p.notStarted()
	}
}

// Wait closes the queue, waits for the workers and returns the collected
// errors. Tasks still queued when the context ended each contribute an
// ErrNotStarted error. Submit must not be called after Wait.
func (p *WorkerPool) Wait() []error {
	p.closeOnce.Do(func() { close(p.workCh) })
	<-p.doneCh

	for range p.workCh {
		p.record(p.notStarted())
	}
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]error, len(p.errs))
	copy(out, p.errs)
	return out
}

func (p *WorkerPool) record(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *WorkerPool) worker(id int) {
	for {
		// A cancelled pool leaves the rest of the queue to Wait.
		if p.ctx.Err() != nil {
			return
		}
		select {
		case <-p.ctx.Done():
			return
		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.Timeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("task panicked")
			p.record(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.record(err)
	}
}

// Batch runs fn over items with bounded concurrency and returns every error.
// Each item that never ran because ctx ended yields one ErrNotStarted error.
//
//	errs := async.Batch(ctx, ids, async.PoolConfig{Workers: 4, Name: "delete"},
//		func(ctx context.Context, id string) error {
//			return provider.DeleteIdentity(ctx, id)
//		})
func Batch[T any](ctx context.Context, items []T, cfg PoolConfig, fn func(context.Context, T) error) []error {
	pool := NewWorkerPool(ctx, cfg)

	var unsubmitted []error
	for i, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			for range items[i:] {
				unsubmitted = append(unsubmitted, err)
			}
			break
		}
	}

	return append(pool.Wait(), unsubmitted...)
}
