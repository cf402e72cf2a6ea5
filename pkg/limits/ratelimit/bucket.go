package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Options tunes bucket scheduling.
type Options struct {
	// InitialDelay is the delay before the first replenishment. Zero means
	// one full window. Later replenishments always follow the window.
	InitialDelay time.Duration
}

func (o Options) firstDelay(window time.Duration) time.Duration {
	if o.InitialDelay <= 0 {
		return window
	}
	return o.InitialDelay
}

// meter is a used counter reset by a scheduled task. The epoch increments on
// every reset so decorators can re-arm their one-shot events.
type meter struct {
	mu        sync.Mutex
	used      int
	epoch     uint64
	task      Task
	closeOnce sync.Once
}

func (m *meter) start(s Scheduler, window time.Duration, opts Options) error {
	task, err := s.Schedule(opts.firstDelay(window), window, m.reset)
	if err != nil {
		return fmt.Errorf("schedule replenish: %w", err)
	}
	m.task = task
	return nil
}

func (m *meter) reset() {
	m.mu.Lock()
	m.used = 0
	m.epoch++
	m.mu.Unlock()
}

func (m *meter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *meter) remaining() time.Duration {
	if m.task == nil {
		return 0
	}
	return m.task.Remaining()
}

func (m *meter) close() {
	m.closeOnce.Do(func() {
		if m.task != nil {
			m.task.Cancel()
		}
	})
}

// PermitBucket grants up to capacity permits per window.
//
// # Algorithm
//
//  1. Acquire takes the bucket lock
//  2. If used < capacity, used is incremented and the permit is granted
//  3. Otherwise the permit is denied and nothing changes
//  4. A scheduled task resets used to zero every window
//
// # Thread Safety
//
// Acquire, Replenish and the scheduled reset are serialized by one mutex.
// A closed bucket keeps answering Acquire but is never replenished again.
type PermitBucket struct {
	m        meter
	capacity int
	window   int
}

// NewPermitBucket creates a bucket and schedules its replenishment.
//
// Parameters:
//   - s: scheduler that drives replenishment
//   - capacity: permits per window, at least 1
//   - windowMinutes: window length in minutes, at least 1
func NewPermitBucket(s Scheduler, capacity, windowMinutes int, opts Options) (*PermitBucket, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if windowMinutes < 1 {
		return nil, ErrInvalidWindow
	}

	b := &PermitBucket{capacity: capacity, window: windowMinutes}
	if err := b.m.start(s, time.Duration(windowMinutes)*time.Minute, opts); err != nil {
		return nil, err
	}
	return b, nil
}

// observe performs one acquire and returns the resulting used count and epoch
// as seen under the same lock as the grant decision.
func (b *PermitBucket) observe() (granted bool, used int, epoch uint64) {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()

	if b.m.used < b.capacity {
		b.m.used++
		return true, b.m.used, b.m.epoch
	}
	return false, b.m.used, b.m.epoch
}

// Acquire consumes one permit if available.
func (b *PermitBucket) Acquire() bool {
	granted, _, _ := b.observe()
	return granted
}

func (b *PermitBucket) MaxPermits() int { return b.capacity }

func (b *PermitBucket) AvailablePermits() int {
	return b.capacity - b.m.count()
}

func (b *PermitBucket) UsedPermits() int { return b.m.count() }

// RemainingTime returns the time until the next scheduled replenishment.
func (b *PermitBucket) RemainingTime() time.Duration { return b.m.remaining() }

// Replenish returns all used permits. Safe to call concurrently with Acquire.
func (b *PermitBucket) Replenish() { b.m.reset() }

// Close cancels the replenishment task.
func (b *PermitBucket) Close() { b.m.close() }

func (b *PermitBucket) Shape() Shape { return ShapeBounded }

func (b *PermitBucket) Window() (int, bool) { return b.window, true }

func (b *PermitBucket) WarnLimit() (int, bool) { return 0, false }

// Unbounded always grants. The zero value is ready to use and shared by every
// key without a main limit or warn threshold.
type Unbounded struct{}

func (Unbounded) Acquire() bool                { return true }
func (Unbounded) MaxPermits() int              { return Unlimited }
func (Unbounded) AvailablePermits() int        { return Unlimited }
func (Unbounded) UsedPermits() int             { return 0 }
func (Unbounded) RemainingTime() time.Duration { return 0 }
func (Unbounded) Replenish()                   {}
func (Unbounded) Close()                       {}
func (Unbounded) Shape() Shape                 { return ShapeUnbounded }
func (Unbounded) Window() (int, bool)          { return 0, false }
func (Unbounded) WarnLimit() (int, bool)       { return 0, false }
