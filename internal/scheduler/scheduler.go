// Package scheduler starts discovery runs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/influencer/internal/engine"
	"github.com/rendis/influencer/pkg/schema"
)

// Job is a recurring discovery run.
type Job struct {
	Name       string `json:"name" yaml:"name"`
	Cron       string `json:"cron" yaml:"cron"`
	Query      string `json:"query" yaml:"query"`
	ResourceID string `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`
}

// Launcher starts a run for a job. Satisfied by the application wiring
// (avoids an import cycle with the workflow packages).
type Launcher interface {
	Launch(ctx context.Context, job Job) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, job Job) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, job Job) error { return f(ctx, job) }

// Upcoming is a job with its next due time.
type Upcoming struct {
	Job  Job       `json:"job"`
	Next time.Time `json:"next"`
}

type entry struct {
	job      Job
	schedule cron.Schedule
	next     time.Time
}

// Scheduler checks its jobs on a ticker and hands due ones to a run pool.
type Scheduler struct {
	launcher Launcher
	pool     *engine.RunPool
	parser   cron.Parser
	logger   *slog.Logger
	now      func() time.Time
	interval time.Duration

	mu      sync.Mutex
	entries []*entry
	cancel  context.CancelFunc
	done    chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithInterval sets how often due jobs are checked. Defaults to 30s.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// New creates a Scheduler. Jobs run on pool; a full pool skips the tick.
func New(launcher Launcher, pool *engine.RunPool, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		launcher: launcher,
		pool:     pool,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
		now:      time.Now,
		interval: 30 * time.Second,
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add registers a job. Names must be unique and the cron expression valid.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "scheduled job needs a name")
	}
	if job.Query == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q has no query", job.Name)
	}
	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "scheduled job %q: invalid cron expression %q", job.Name, job.Cron).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.job.Name == job.Name {
			return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.Name)
		}
	}
	s.entries = append(s.entries, &entry{job: job, schedule: sched, next: sched.Next(s.now())})
	return nil
}

// Upcoming lists jobs ordered by next due time.
func (s *Scheduler) Upcoming() []Upcoming {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Upcoming, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Upcoming{Job: e.job, Next: e.next})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "jobs", len(s.Upcoming()), "interval", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick submits every due job and advances its next run time. Missed slots
// are not replayed: a job due several times since the last tick runs once.
// It returns how many jobs were submitted.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []Job
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		due = append(due, e.job)
		e.next = e.schedule.Next(now)
	}
	s.mu.Unlock()

	submitted := 0
	for _, job := range due {
		if !s.tryAcquire(job.Name) {
			s.logger.Info("scheduled job still running, skipping", "job", job.Name)
			continue
		}
		err := s.pool.TrySubmit(ctx, engine.Job{
			Name: "schedule:" + job.Name,
			Run: func(ctx context.Context) error {
				defer s.release(job.Name)
				s.logger.InfoContext(ctx, "running scheduled job", "job", job.Name, "query", job.Query)
				return s.launcher.Launch(ctx, job)
			},
		})
		if err != nil {
			s.release(job.Name)
			if errors.Is(err, engine.ErrPoolFull) {
				s.logger.Warn("run pool full, scheduled job skipped", "job", job.Name)
				continue
			}
			s.logger.Error("failed to submit scheduled job", "job", job.Name, "error", err)
			continue
		}
		submitted++
	}
	return submitted
}

func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// Stop ends the loop. Jobs already submitted keep running on the pool.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.done = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
	return nil
}
