// Package jobs runs periodic maintenance (nonce and bucket purges) on a cron schedule.
//
// Every run takes a named lock first, so only one replica does the work when
// several share a Redis instance.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mileusna/crontab"
)

var (
	ErrInvalidInput = errors.New("jobs: invalid input")
	ErrUnknownTask  = errors.New("jobs: unknown task")
)

// Func is one unit of maintenance work. It returns the number of rows affected.
type Func func(ctx context.Context) (int64, error)

// Task binds a Func to a cron schedule.
type Task struct {
	Name     string
	Schedule string
	Run      Func
}

// Scheduler owns the registered tasks.
type Scheduler struct {
	log     *slog.Logger
	locker  Locker
	timeout time.Duration
	lockTTL time.Duration

	mu    sync.Mutex
	tasks map[string]Task
	order []string
}

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) error {
		if log == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidInput)
		}
		s.log = log
		return nil
	}
}

// WithTimeout bounds a single run. The lock TTL follows it.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be positive", ErrInvalidInput)
		}
		s.timeout = d
		s.lockTTL = d + 5*time.Second
		return nil
	}
}

// New constructs a Scheduler. A nil locker means runs are only serialized in-process.
func New(locker Locker, opts ...Option) (*Scheduler, error) {
	if locker == nil {
		locker = NewLocalLocker()
	}
	s := &Scheduler{
		log:     slog.Default(),
		locker:  locker,
		timeout: time.Minute,
		lockTTL: time.Minute + 5*time.Second,
		tasks:   make(map[string]Task),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a task. Schedules use the five-field cron syntax.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Schedule == "" || t.Run == nil {
		return fmt.Errorf("%w: name, schedule and run are required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[t.Name]; dup {
		return fmt.Errorf("%w: duplicate task %q", ErrInvalidInput, t.Name)
	}
	s.tasks[t.Name] = t
	s.order = append(s.order, t.Name)
	return nil
}

// Tasks lists registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// RunNow executes one task immediately under its lock.
// A task whose lock is held elsewhere is skipped and reports ErrLocked.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.execute(ctx, t)
}

func (s *Scheduler) execute(parent context.Context, t Task) (int64, error) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	unlock, err := s.locker.Acquire(ctx, t.Name, s.lockTTL)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			s.log.Info("jobs.run.skipped", "task", t.Name, "reason", "locked")
		} else {
			s.log.Error("jobs.lock.fail", "task", t.Name, "err", err)
		}
		return 0, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("jobs.unlock.fail", "task", t.Name, "err", err)
		}
	}()

	start := time.Now()
	n, err := t.Run(ctx)
	if err != nil {
		s.log.Error("jobs.run.fail", "task", t.Name, "err", err, "elapsed", time.Since(start))
		return n, err
	}
	s.log.Info("jobs.run.ok", "task", t.Name, "affected", n, "elapsed", time.Since(start))
	return n, nil
}

// Run schedules every task and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ctab := crontab.New()
	defer ctab.Shutdown()

	s.mu.Lock()
	tasks := make([]Task, 0, len(s.order))
	for _, name := range s.order {
		tasks = append(tasks, s.tasks[name])
	}
	s.mu.Unlock()

	for _, t := range tasks {
		if err := ctab.AddJob(t.Schedule, func() { _, _ = s.execute(ctx, t) }); err != nil {
			return fmt.Errorf("jobs: schedule %q: %w", t.Name, err)
		}
		s.log.Info("jobs.scheduled", "task", t.Name, "schedule", t.Schedule)
	}

	<-ctx.Done()
	return nil
}
