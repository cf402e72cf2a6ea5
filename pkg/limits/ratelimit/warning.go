package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind distinguishes warn and blocked events.
type EventKind string

const (
	// EventWarn is emitted when a caller reaches its warn threshold.
	EventWarn EventKind = "warn"

	// EventBlocked is emitted on the first denied acquire of a window.
	EventBlocked EventKind = "blocked"
)

// Event describes a threshold crossing for one caller key.
type Event struct {
	ID            string
	Kind          EventKind
	Key           string
	WarnLimit     int
	MaxPermits    int
	WindowMinutes int
	LimitType     string
	Remaining     time.Duration
	Time          time.Time
}

// Notifier receives events from warning decorators. Notify must not block
// for long and never reports failure back to the limiter.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// eventSource holds the labels shared by both warning decorators. The armed
// markers store epoch+1 of the window in which the event last fired.
type eventSource struct {
	key       string
	warnLimit int
	limitType string
	notifier  Notifier
	now       func() time.Time

	warnedAt  uint64
	blockedAt uint64
}

func (s *eventSource) emit(kind EventKind, maxPermits, window int, remaining time.Duration) {
	s.notifier.Notify(Event{
		ID:            uuid.NewString(),
		Kind:          kind,
		Key:           s.key,
		WarnLimit:     s.warnLimit,
		MaxPermits:    maxPermits,
		WindowMinutes: window,
		LimitType:     s.limitType,
		Remaining:     remaining,
		Time:          s.now(),
	})
}

// Warning decorates a PermitBucket with a warn threshold.
//
// The decorator lock is held across the bucket acquire and the event
// decision, so the used count it compares is the one its own grant produced.
type Warning struct {
	mu     sync.Mutex
	bucket *PermitBucket
	src    eventSource
}

func (w *Warning) Acquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	granted, used, epoch := w.bucket.observe()
	mark := epoch + 1

	if granted {
		if used == w.src.warnLimit && w.src.warnedAt != mark {
			w.src.warnedAt = mark
			w.src.emit(EventWarn, w.bucket.capacity, w.bucket.window, 0)
		}
		return true
	}

	if w.src.blockedAt != mark {
		w.src.blockedAt = mark
		w.src.emit(EventBlocked, w.bucket.capacity, w.bucket.window, w.bucket.RemainingTime())
	}
	return false
}

func (w *Warning) MaxPermits() int              { return w.bucket.MaxPermits() }
func (w *Warning) AvailablePermits() int        { return w.bucket.AvailablePermits() }
func (w *Warning) UsedPermits() int             { return w.bucket.UsedPermits() }
func (w *Warning) RemainingTime() time.Duration { return w.bucket.RemainingTime() }
func (w *Warning) Replenish()                   { w.bucket.Replenish() }
func (w *Warning) Close()                       { w.bucket.Close() }
func (w *Warning) Shape() Shape                 { return ShapeWarning }
func (w *Warning) Window() (int, bool)          { return w.bucket.Window() }
func (w *Warning) WarnLimit() (int, bool)       { return w.src.warnLimit, true }

// WarningUnbounded always grants and counts grants in its own meter, which
// is reset on the resolved window, to detect the warn threshold.
type WarningUnbounded struct {
	mu     sync.Mutex
	m      *meter
	window int
	src    eventSource
}

func (w *WarningUnbounded) Acquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.m.mu.Lock()
	w.m.used++
	used, mark := w.m.used, w.m.epoch+1
	w.m.mu.Unlock()

	if used == w.src.warnLimit && w.src.warnedAt != mark {
		w.src.warnedAt = mark
		w.src.emit(EventWarn, Unlimited, w.window, 0)
	}
	return true
}

func (w *WarningUnbounded) MaxPermits() int              { return Unlimited }
func (w *WarningUnbounded) AvailablePermits() int        { return Unlimited }
func (w *WarningUnbounded) UsedPermits() int             { return w.m.count() }
func (w *WarningUnbounded) RemainingTime() time.Duration { return w.m.remaining() }
func (w *WarningUnbounded) Replenish()                   { w.m.reset() }
func (w *WarningUnbounded) Close()                       { w.m.close() }
func (w *WarningUnbounded) Shape() Shape                 { return ShapeWarningUnbounded }
func (w *WarningUnbounded) Window() (int, bool)          { return w.window, true }
func (w *WarningUnbounded) WarnLimit() (int, bool)       { return w.src.warnLimit, true }
