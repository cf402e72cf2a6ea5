package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a handle to a recurring job registered with a Scheduler.
type Task interface {
	// Remaining returns the time until the next run, or zero once cancelled.
	Remaining() time.Duration

	// Cancel removes the job. It is idempotent.
	Cancel()
}

// Scheduler runs recurring jobs. The first run happens initialDelay after
// registration, each later run one period after the previous run.
type Scheduler interface {
	Schedule(initialDelay, period time.Duration, fn func()) (Task, error)
}

// CronScheduler is the process-wide Scheduler backed by robfig/cron.
//
// Jobs run on cron goroutines and are wrapped with cron.Recover so a
// panicking job never takes down the scheduler.
type CronScheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	stopped bool
}

// NewCronScheduler creates and starts a scheduler.
func NewCronScheduler(logger *slog.Logger) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ratelimit.scheduler")
	cl := cronLogger{logger: logger}

	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	c.Start()

	return &CronScheduler{cron: c, logger: logger}
}

// Schedule registers fn to run after initialDelay and then every period.
func (s *CronScheduler) Schedule(initialDelay, period time.Duration, fn func()) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrSchedulerStopped
	}

	t := &cronTask{sched: s, first: initialDelay, period: period}
	t.id = s.cron.Schedule(t, cron.FuncJob(func() {
		if t.cancelled.Load() {
			return
		}
		fn()
	}))
	return t, nil
}

// Pending returns the number of registered jobs.
func (s *CronScheduler) Pending() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs to finish or ctx to
// expire. Later calls to Schedule fail with ErrSchedulerStopped.
func (s *CronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronTask is both the cron.Schedule and the Task for one job. Recording the
// computed next run avoids snapshotting every cron entry to answer Remaining.
type cronTask struct {
	sched     *CronScheduler
	id        cron.EntryID
	first     time.Duration
	period    time.Duration
	started   atomic.Bool
	cancelled atomic.Bool
	next      atomic.Int64
}

// Next implements cron.Schedule with fixed-delay semantics.
func (t *cronTask) Next(now time.Time) time.Time {
	d := t.period
	if t.started.CompareAndSwap(false, true) {
		d = t.first
	}
	next := now.Add(d)
	t.next.Store(next.UnixNano())
	return next
}

func (t *cronTask) Remaining() time.Duration {
	if t.cancelled.Load() {
		return 0
	}
	next := t.next.Load()
	if next == 0 {
		return t.first
	}
	d := time.Until(time.Unix(0, next))
	if d < 0 {
		return 0
	}
	return d
}

func (t *cronTask) Cancel() {
	if t.cancelled.CompareAndSwap(false, true) {
		t.sched.cron.Remove(t.id)
	}
}

// cronLogger adapts slog to cron.Logger. Cron's chatty info logs go to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
