// Package testutil provides fakes shared by package tests.
package testutil

import (
	"sync"
	"time"

	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// ManualScheduler is a ratelimit.Scheduler driven by Advance instead of the
// wall clock.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*ManualTask
}

// NewManualScheduler returns a scheduler whose clock starts at a fixed time.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// ManualTask is the Task returned by ManualScheduler.
type ManualTask struct {
	sched     *ManualScheduler
	next      time.Time
	period    time.Duration
	fn        func()
	cancelled bool
}

func (s *ManualScheduler) Schedule(initialDelay, period time.Duration, fn func()) (ratelimit.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &ManualTask{sched: s, next: s.now.Add(initialDelay), period: period, fn: fn}
	s.tasks = append(s.tasks, t)
	return t, nil
}

// Now returns the fake clock.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the clock forward and runs every task that comes due, in
// order, including repeated runs of the same task.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var due *ManualTask
		for _, t := range s.tasks {
			if t.cancelled || t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = due.next
		due.next = due.next.Add(due.period)
		fn := due.fn
		s.mu.Unlock()

		fn()
	}
}

// Active returns the number of tasks not yet cancelled.
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func (t *ManualTask) Remaining() time.Duration {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.cancelled {
		return 0
	}
	return t.next.Sub(t.sched.now)
}

func (t *ManualTask) Cancel() {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	t.cancelled = true
}
