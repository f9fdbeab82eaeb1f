package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunPool_BasicExecution(t *testing.T) {
	pool := NewRunPool(2, quietLogger())
	defer pool.Shutdown()

	var ran atomic.Int64
	err := pool.Submit(context.Background(), Job{Name: "one", Run: func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	pool.Wait()

	if ran.Load() != 1 {
		t.Error("work did not execute")
	}
	if m := pool.Metrics(); m.Completed != 1 || m.Active != 0 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestRunPool_ConcurrencyLimit(t *testing.T) {
	const size = 3
	pool := NewRunPool(size, quietLogger())
	defer pool.Shutdown()

	var current, peak atomic.Int64
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		err := pool.Submit(context.Background(), Job{Name: "slow", Run: func(ctx context.Context) error {
			c := current.Add(1)
			mu.Lock()
			if c > peak.Load() {
				peak.Store(c)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	pool.Wait()

	if peak.Load() > size {
		t.Errorf("peak concurrency %d exceeds pool size %d", peak.Load(), size)
	}
	if m := pool.Metrics(); m.Completed != 10 {
		t.Errorf("expected 10 completed, got %d", m.Completed)
	}
}

func TestRunPool_FailureAndPanicCounted(t *testing.T) {
	pool := NewRunPool(2, quietLogger())
	defer pool.Shutdown()

	_ = pool.Submit(context.Background(), Job{Name: "fail", Run: func(ctx context.Context) error {
		return errors.New("boom")
	}})
	_ = pool.Submit(context.Background(), Job{Name: "panic", Run: func(ctx context.Context) error {
		panic("kaboom")
	}})
	pool.Wait()

	m := pool.Metrics()
	if m.Failed != 2 {
		t.Errorf("expected 2 failed, got %d", m.Failed)
	}
	if m.Panics != 1 {
		t.Errorf("expected 1 panic, got %d", m.Panics)
	}
}

func TestRunPool_TrySubmitWhenFull(t *testing.T) {
	pool := NewRunPool(1, quietLogger())
	defer pool.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := pool.TrySubmit(context.Background(), Job{Name: "hold", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("first TrySubmit: %v", err)
	}
	<-started

	err := pool.TrySubmit(context.Background(), Job{Name: "extra", Run: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, ErrPoolFull) {
		t.Errorf("expected ErrPoolFull, got %v", err)
	}
	close(release)
	pool.Wait()

	if m := pool.Metrics(); m.Rejected != 1 {
		t.Errorf("expected 1 rejected, got %d", m.Rejected)
	}
}

func TestRunPool_SubmitRespectsContext(t *testing.T) {
	pool := NewRunPool(1, quietLogger())
	defer pool.Shutdown()

	release := make(chan struct{})
	_ = pool.Submit(context.Background(), Job{Name: "hold", Run: func(ctx context.Context) error {
		<-release
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, Job{Name: "blocked", Run: func(ctx context.Context) error { return nil }})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(release)
}

func TestRunPool_Shutdown(t *testing.T) {
	pool := NewRunPool(2, quietLogger())

	var ran atomic.Int64
	_ = pool.Submit(context.Background(), Job{Name: "a", Run: func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		ran.Add(1)
		return nil
	}})
	pool.Shutdown()
	pool.Shutdown()

	if ran.Load() != 1 {
		t.Error("shutdown must wait for active work")
	}
	if err := pool.Submit(context.Background(), Job{Name: "late"}); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("expected ErrPoolShutdown, got %v", err)
	}
	if err := pool.TrySubmit(context.Background(), Job{Name: "late"}); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("expected ErrPoolShutdown, got %v", err)
	}
}
