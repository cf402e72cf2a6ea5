package ratelimit_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/packlimit/internal/testutil"
	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

func newFactory(sched ratelimit.Scheduler, n ratelimit.Notifier) *ratelimit.Factory {
	return &ratelimit.Factory{Scheduler: sched, Notifier: n}
}

// ============================================================================
// Permit Bucket Tests
// ============================================================================

func TestPermitBucket_Basic(t *testing.T) {
	sched := testutil.NewManualScheduler()
	bucket, err := ratelimit.NewPermitBucket(sched, 3, 60, ratelimit.Options{})
	if err != nil {
		t.Fatalf("NewPermitBucket failed: %v", err)
	}
	defer bucket.Close()

	for i := 1; i <= 3; i++ {
		if !bucket.Acquire() {
			t.Fatalf("Expected acquire %d to succeed", i)
		}
		if bucket.AvailablePermits()+bucket.UsedPermits() != bucket.MaxPermits() {
			t.Errorf("Expected available+used == capacity, got %d+%d",
				bucket.AvailablePermits(), bucket.UsedPermits())
		}
	}

	if bucket.Acquire() {
		t.Error("Expected acquire beyond capacity to fail")
	}
	if bucket.UsedPermits() != 3 {
		t.Errorf("Expected used to stay at 3 after denial, got %d", bucket.UsedPermits())
	}
}

func TestPermitBucket_InvalidArguments(t *testing.T) {
	sched := testutil.NewManualScheduler()

	tests := []struct {
		name     string
		capacity int
		window   int
		want     error
	}{
		{"zero capacity", 0, 60, ratelimit.ErrInvalidCapacity},
		{"negative capacity", -5, 60, ratelimit.ErrInvalidCapacity},
		{"zero window", 10, 0, ratelimit.ErrInvalidWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ratelimit.NewPermitBucket(sched, tt.capacity, tt.window, ratelimit.Options{})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if sched.Active() != 0 {
		t.Errorf("Expected no tasks scheduled for rejected buckets, got %d", sched.Active())
	}
}

func TestPermitBucket_ReplenishAfterExhaustion(t *testing.T) {
	sched := testutil.NewManualScheduler()
	bucket, _ := ratelimit.NewPermitBucket(sched, 5, 60, ratelimit.Options{})
	defer bucket.Close()

	for i := 0; i < 5; i++ {
		bucket.Acquire()
	}
	for i := 0; i < 10; i++ {
		if bucket.Acquire() {
			t.Fatal("Expected exhausted bucket to deny")
		}
	}

	bucket.Replenish()

	granted := 0
	for i := 0; i < 10; i++ {
		if bucket.Acquire() {
			granted++
		}
	}
	if granted != 5 {
		t.Errorf("Expected exactly 5 grants after replenish, got %d", granted)
	}
}

func TestPermitBucket_ScheduledReplenish(t *testing.T) {
	sched := testutil.NewManualScheduler()
	bucket, _ := ratelimit.NewPermitBucket(sched, 1, 60, ratelimit.Options{InitialDelay: time.Minute})
	defer bucket.Close()

	if got := bucket.RemainingTime(); got != time.Minute {
		t.Errorf("Expected first replenish in 1m, got %v", got)
	}

	bucket.Acquire()
	sched.Advance(30 * time.Second)
	if bucket.Acquire() {
		t.Error("Expected denial before the first replenish")
	}

	sched.Advance(30 * time.Second)
	if !bucket.Acquire() {
		t.Error("Expected grant after the first replenish")
	}
	if got := bucket.RemainingTime(); got != 60*time.Minute {
		t.Errorf("Expected later replenishments every window, got %v", got)
	}

	sched.Advance(60 * time.Minute)
	if bucket.UsedPermits() != 0 {
		t.Errorf("Expected used reset by periodic replenish, got %d", bucket.UsedPermits())
	}
}

func TestPermitBucket_DefaultInitialDelayIsWindow(t *testing.T) {
	sched := testutil.NewManualScheduler()
	bucket, _ := ratelimit.NewPermitBucket(sched, 1, 15, ratelimit.Options{})
	defer bucket.Close()

	if got := bucket.RemainingTime(); got != 15*time.Minute {
		t.Errorf("Expected 15m until replenish, got %v", got)
	}
}

func TestPermitBucket_CloseIsIdempotent(t *testing.T) {
	sched := testutil.NewManualScheduler()
	bucket, _ := ratelimit.NewPermitBucket(sched, 1, 60, ratelimit.Options{})

	bucket.Close()
	bucket.Close()

	if sched.Active() != 0 {
		t.Errorf("Expected task cancelled on close, got %d active", sched.Active())
	}

	bucket.Acquire()
	sched.Advance(2 * time.Hour)
	if bucket.UsedPermits() != 1 {
		t.Error("Expected closed bucket to stop replenishing")
	}
}

func TestPermitBucket_Concurrent(t *testing.T) {
	sched := testutil.NewManualScheduler()
	bucket, _ := ratelimit.NewPermitBucket(sched, 100, 60, ratelimit.Options{})
	defer bucket.Close()

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if bucket.Acquire() {
					granted.Add(1)
				}
				if j == 5 {
					_ = bucket.AvailablePermits()
				}
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 100 {
		t.Errorf("Expected exactly 100 grants, got %d", granted.Load())
	}
	if bucket.UsedPermits() > bucket.MaxPermits() {
		t.Errorf("Used %d exceeds capacity %d", bucket.UsedPermits(), bucket.MaxPermits())
	}
}

func TestPermitBucket_ConcurrentReplenish(t *testing.T) {
	sched := testutil.NewManualScheduler()
	bucket, _ := ratelimit.NewPermitBucket(sched, 10, 60, ratelimit.Options{})
	defer bucket.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bucket.Acquire()
			}
		}()
		go func() {
			defer wg.Done()
			bucket.Replenish()
		}()
	}
	wg.Wait()

	used := bucket.UsedPermits()
	if used < 0 || used > 10 {
		t.Errorf("Expected 0 <= used <= 10, got %d", used)
	}
}

// ============================================================================
// Unbounded Tests
// ============================================================================

func TestUnbounded(t *testing.T) {
	var l ratelimit.Limiter = ratelimit.Unbounded{}

	for i := 0; i < 1000; i++ {
		if !l.Acquire() {
			t.Fatal("Expected unbounded limiter to always grant")
		}
	}
	if l.AvailablePermits() != ratelimit.Unlimited {
		t.Errorf("Expected Unlimited available, got %d", l.AvailablePermits())
	}
	if _, ok := l.Window(); ok {
		t.Error("Expected no window for unbounded limiter")
	}
	if _, ok := l.WarnLimit(); ok {
		t.Error("Expected no warn limit for unbounded limiter")
	}
	l.Replenish()
	l.Close()
}

// ============================================================================
// Warning Decorator Tests
// ============================================================================

func TestWarning_EdgeTriggered(t *testing.T) {
	sched := testutil.NewManualScheduler()
	rec := &testutil.RecordingNotifier{}
	l, err := newFactory(sched, rec).Build("1000", ratelimit.Params{
		Limit: 10, HasLimit: true, Warn: 9, HasWarn: true, WindowMinutes: 60,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer l.Close()

	for i := 1; i <= 8; i++ {
		l.Acquire()
	}
	if len(rec.Events()) != 0 {
		t.Fatalf("Expected no events before the threshold, got %d", len(rec.Events()))
	}

	l.Acquire()
	if rec.Count(ratelimit.EventWarn) != 1 {
		t.Fatalf("Expected one warn at acquisition 9, got %d", rec.Count(ratelimit.EventWarn))
	}

	if !l.Acquire() {
		t.Error("Expected acquisition 10 to succeed")
	}
	if len(rec.Events()) != 1 {
		t.Errorf("Expected no event at acquisition 10, got %d total", len(rec.Events()))
	}

	if l.Acquire() {
		t.Error("Expected acquisition 11 to fail")
	}
	l.Acquire()
	l.Acquire()
	if rec.Count(ratelimit.EventBlocked) != 1 {
		t.Errorf("Expected exactly one blocked event, got %d", rec.Count(ratelimit.EventBlocked))
	}

	e := rec.Events()[0]
	if e.Key != "1000" || e.WarnLimit != 9 || e.WindowMinutes != 60 || e.LimitType != ratelimit.DefaultLimitType {
		t.Errorf("Unexpected warn event: %+v", e)
	}
	if e.ID == "" {
		t.Error("Expected event ID")
	}
	blocked := rec.Events()[1]
	if blocked.Remaining != 60*time.Minute {
		t.Errorf("Expected blocked event to carry 60m remaining, got %v", blocked.Remaining)
	}
}

func TestWarning_RearmedOnReplenish(t *testing.T) {
	sched := testutil.NewManualScheduler()
	rec := &testutil.RecordingNotifier{}
	l, _ := newFactory(sched, rec).Build("host-a", ratelimit.Params{
		Limit: 2, HasLimit: true, Warn: 2, HasWarn: true, WindowMinutes: 10,
	})
	defer l.Close()

	for window := 0; window < 3; window++ {
		l.Acquire()
		l.Acquire()
		l.Acquire()
		sched.Advance(10 * time.Minute)
	}

	if rec.Count(ratelimit.EventWarn) != 3 {
		t.Errorf("Expected one warn per window, got %d", rec.Count(ratelimit.EventWarn))
	}
	if rec.Count(ratelimit.EventBlocked) != 3 {
		t.Errorf("Expected one blocked per window, got %d", rec.Count(ratelimit.EventBlocked))
	}
}

func TestWarning_ForwardsToBucket(t *testing.T) {
	sched := testutil.NewManualScheduler()
	l, _ := newFactory(sched, nil).Build("k", ratelimit.Params{
		Limit: 4, HasLimit: true, Warn: 3, HasWarn: true, WindowMinutes: 30,
	})

	l.Acquire()
	if l.UsedPermits() != 1 || l.AvailablePermits() != 3 || l.MaxPermits() != 4 {
		t.Errorf("Unexpected counts: used=%d available=%d max=%d",
			l.UsedPermits(), l.AvailablePermits(), l.MaxPermits())
	}
	l.Replenish()
	if l.UsedPermits() != 0 {
		t.Error("Expected replenish to be forwarded")
	}
	if w, _ := l.Window(); w != 30 {
		t.Errorf("Expected window 30, got %d", w)
	}

	l.Close()
	if sched.Active() != 0 {
		t.Error("Expected close to be forwarded")
	}
}

func TestWarningUnbounded(t *testing.T) {
	sched := testutil.NewManualScheduler()
	rec := &testutil.RecordingNotifier{}
	l, _ := newFactory(sched, rec).Build("42", ratelimit.Params{
		Warn: 5, HasWarn: true, WindowMinutes: 60,
	})
	defer l.Close()

	if l.Shape() != ratelimit.ShapeWarningUnbounded {
		t.Fatalf("Expected warning-unbounded shape, got %s", l.Shape())
	}

	for i := 0; i < 20; i++ {
		if !l.Acquire() {
			t.Fatal("Expected warning-unbounded limiter to always grant")
		}
	}
	if rec.Count(ratelimit.EventWarn) != 1 {
		t.Errorf("Expected one warn, got %d", rec.Count(ratelimit.EventWarn))
	}
	if l.AvailablePermits() != ratelimit.Unlimited {
		t.Error("Expected Unlimited available permits")
	}

	sched.Advance(60 * time.Minute)
	for i := 0; i < 5; i++ {
		l.Acquire()
	}
	if rec.Count(ratelimit.EventWarn) != 2 {
		t.Errorf("Expected warn again after the meter reset, got %d", rec.Count(ratelimit.EventWarn))
	}
	if rec.Count(ratelimit.EventBlocked) != 0 {
		t.Error("Expected no blocked events from an unbounded limiter")
	}
}

// ============================================================================
// Factory Tests
// ============================================================================

func TestFactory_Shapes(t *testing.T) {
	sched := testutil.NewManualScheduler()
	f := newFactory(sched, nil)

	tests := []struct {
		name   string
		params ratelimit.Params
		want   ratelimit.Shape
	}{
		{"limit only", ratelimit.Params{Limit: 5, HasLimit: true, WindowMinutes: 60}, ratelimit.ShapeBounded},
		{"limit and warn", ratelimit.Params{Limit: 5, HasLimit: true, Warn: 3, HasWarn: true, WindowMinutes: 60}, ratelimit.ShapeWarning},
		{"warn only", ratelimit.Params{Warn: 3, HasWarn: true, WindowMinutes: 60}, ratelimit.ShapeWarningUnbounded},
		{"neither", ratelimit.Params{WindowMinutes: 60}, ratelimit.ShapeUnbounded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := f.Build("k", tt.params)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			defer l.Close()
			if l.Shape() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, l.Shape())
			}
			if tt.params.Shape() != tt.want {
				t.Errorf("Params.Shape() = %s, want %s", tt.params.Shape(), tt.want)
			}
		})
	}
}

func TestFactory_RewarnKeepsBucket(t *testing.T) {
	sched := testutil.NewManualScheduler()
	rec := &testutil.RecordingNotifier{}
	f := newFactory(sched, rec)

	old, _ := f.Build("7", ratelimit.Params{Limit: 10, HasLimit: true, Warn: 8, HasWarn: true, WindowMinutes: 60})
	for i := 0; i < 4; i++ {
		old.Acquire()
	}
	remaining := old.RemainingTime()

	next, err := f.Rewarn("7", old, 5)
	if err != nil {
		t.Fatalf("Rewarn failed: %v", err)
	}
	if next.UsedPermits() != 4 {
		t.Errorf("Expected used count carried over, got %d", next.UsedPermits())
	}
	if next.RemainingTime() != remaining {
		t.Error("Expected replenish schedule carried over")
	}
	if w, _ := next.WarnLimit(); w != 5 {
		t.Errorf("Expected new warn limit 5, got %d", w)
	}
	if sched.Active() != 1 {
		t.Errorf("Expected the single bucket task to survive, got %d", sched.Active())
	}

	next.Acquire()
	if rec.Count(ratelimit.EventWarn) != 1 {
		t.Error("Expected the new threshold to apply")
	}

	if _, err := f.Rewarn("7", ratelimit.Unbounded{}, 5); err == nil {
		t.Error("Expected error rewarning an unbounded limiter")
	}
}

func TestFactory_InvalidWarn(t *testing.T) {
	f := newFactory(testutil.NewManualScheduler(), nil)
	_, err := f.Build("k", ratelimit.Params{Limit: 5, HasLimit: true, Warn: 0, HasWarn: true, WindowMinutes: 60})
	if !errors.Is(err, ratelimit.ErrInvalidWarnLimit) {
		t.Errorf("Expected ErrInvalidWarnLimit, got %v", err)
	}
}

func TestLess_OrdersByAvailableDescending(t *testing.T) {
	sched := testutil.NewManualScheduler()
	a, _ := ratelimit.NewPermitBucket(sched, 10, 60, ratelimit.Options{})
	b, _ := ratelimit.NewPermitBucket(sched, 10, 60, ratelimit.Options{})
	for i := 0; i < 7; i++ {
		a.Acquire()
	}

	list := []ratelimit.Limiter{a, ratelimit.Unbounded{}, b}
	sort.SliceStable(list, func(i, j int) bool { return ratelimit.Less(list[i], list[j]) })

	if list[0].Shape() != ratelimit.ShapeUnbounded || list[1] != b || list[2] != a {
		t.Errorf("Unexpected order: %v %v %v",
			list[0].AvailablePermits(), list[1].AvailablePermits(), list[2].AvailablePermits())
	}
}

// ============================================================================
// Cron Scheduler Tests
// ============================================================================

func TestCronScheduler_RunsAndCancels(t *testing.T) {
	sched := ratelimit.NewCronScheduler(nil)
	defer sched.Stop(context.Background())

	var runs atomic.Int64
	task, err := sched.Schedule(20*time.Millisecond, 20*time.Millisecond, func() { runs.Add(1) })
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if task.Remaining() <= 0 || task.Remaining() > 20*time.Millisecond {
		t.Errorf("Expected remaining within first delay, got %v", task.Remaining())
	}

	time.Sleep(150 * time.Millisecond)
	if runs.Load() < 2 {
		t.Errorf("Expected at least 2 runs, got %d", runs.Load())
	}

	task.Cancel()
	task.Cancel()
	after := runs.Load()
	time.Sleep(80 * time.Millisecond)
	if runs.Load() > after+1 {
		t.Errorf("Expected runs to stop after cancel, went from %d to %d", after, runs.Load())
	}
	if task.Remaining() != 0 {
		t.Error("Expected zero remaining after cancel")
	}
	if sched.Pending() != 0 {
		t.Errorf("Expected no pending jobs, got %d", sched.Pending())
	}
}

func TestCronScheduler_RecoversPanics(t *testing.T) {
	sched := ratelimit.NewCronScheduler(nil)
	defer sched.Stop(context.Background())

	var runs atomic.Int64
	task, _ := sched.Schedule(10*time.Millisecond, 10*time.Millisecond, func() {
		runs.Add(1)
		panic("boom")
	})
	defer task.Cancel()

	time.Sleep(100 * time.Millisecond)
	if runs.Load() < 2 {
		t.Errorf("Expected scheduler to keep running after a panic, got %d runs", runs.Load())
	}
}

func TestCronScheduler_StoppedRejectsSchedule(t *testing.T) {
	sched := ratelimit.NewCronScheduler(nil)
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got %v", err)
	}

	_, err := sched.Schedule(time.Second, time.Second, func() {})
	if !errors.Is(err, ratelimit.ErrSchedulerStopped) {
		t.Errorf("Expected ErrSchedulerStopped, got %v", err)
	}

	_, err = ratelimit.NewPermitBucket(sched, 1, 1, ratelimit.Options{})
	if !errors.Is(err, ratelimit.ErrSchedulerStopped) {
		t.Errorf("Expected bucket creation to surface ErrSchedulerStopped, got %v", err)
	}
}
