package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PoolMetrics is a snapshot of RunPool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Rejected  int64 `json:"rejected"`
}

var (
	// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
	ErrPoolShutdown = errors.New("run pool is shut down")
	// ErrPoolFull is returned by TrySubmit when every slot is busy.
	ErrPoolFull = errors.New("run pool is full")
)

// Job is one unit of work for the pool, usually starting a run.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunPool caps how many runs execute concurrently in the background.
type RunPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	done   chan struct{}
	closed bool
	logger *slog.Logger

	active, completed, failed, panics, rejected atomic.Int64
}

// NewRunPool creates a pool with the given max concurrency.
func NewRunPool(size int, logger *slog.Logger) *RunPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunPool{
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Submit blocks until a slot is free, ctx is done, or the pool shuts down.
func (p *RunPool) Submit(ctx context.Context, job Job) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}
	return p.launch(ctx, job)
}

// TrySubmit starts job only if a slot is free right now.
func (p *RunPool) TrySubmit(ctx context.Context, job Job) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}
	select {
	case p.sem <- struct{}{}:
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
	return p.launch(ctx, job)
}

func (p *RunPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// launch runs job on a held slot. wg.Add happens under mu so Shutdown's
// Wait cannot miss it.
func (p *RunPool) launch(ctx context.Context, job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.failed.Add(1)
				p.logger.ErrorContext(ctx, "run job panicked", "job", job.Name, "panic", fmt.Sprint(r))
			}
			p.active.Add(-1)
			<-p.sem
			p.wg.Done()
		}()

		if err := job.Run(ctx); err != nil {
			p.failed.Add(1)
			p.logger.WarnContext(ctx, "run job failed", "job", job.Name, "error", err)
			return
		}
		p.completed.Add(1)
	}()
	return nil
}

// Wait blocks until all submitted work completes.
func (p *RunPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new submissions and waits for active work.
func (p *RunPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *RunPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
		Rejected:  p.rejected.Load(),
	}
}
