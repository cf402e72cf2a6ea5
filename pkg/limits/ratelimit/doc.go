// Package ratelimit provides the per-caller permit limiters used to throttle
// upload-pack negotiations.
//
// # Overview
//
// Every caller key is represented by exactly one Limiter. There are four
// shapes, chosen by whether a main limit and a warn threshold are configured:
//
//   - ShapeBounded: a PermitBucket holding capacity permits per window
//   - ShapeWarning: a Warning decorator around a PermitBucket
//   - ShapeWarningUnbounded: always grants, but warns once per window when the
//     grant count reaches the threshold
//   - ShapeUnbounded: the stateless Unbounded value
//
// # Permit Bucket
//
// A PermitBucket grants at most capacity permits between two replenishments.
// Replenishment is driven by a Scheduler and resets the used count to zero:
//
//	sched := ratelimit.NewCronScheduler(logger)
//	defer sched.Stop(ctx)
//
//	bucket, err := ratelimit.NewPermitBucket(sched, 100, 60, ratelimit.Options{})
//	if err != nil {
//	    return err
//	}
//	defer bucket.Close()
//
//	if !bucket.Acquire() {
//	    // Rate limit exceeded
//	}
//
// Windows are fixed-delay: the next replenishment is scheduled one window
// after the previous one ran, not aligned to the wall clock.
//
// # Warning Decorators
//
// Warning and WarningUnbounded hand Events to a Notifier. A warn event is
// edge-triggered: it fires the first time the used count equals the warn
// limit and is re-armed only by the next replenishment. A blocked event fires
// on the first denial of each window.
//
// # Thread Safety
//
// All limiters are safe for concurrent use. A bucket serializes acquire and
// replenish with its own mutex; limiters for different keys share no locks.
package ratelimit
