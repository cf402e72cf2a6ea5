// Package limits is the upload-pack rate limiting engine.
//
// # Overview
//
// A Manager owns one limiter per caller key. Limiters are built lazily from
// the current policy snapshot, expire after an hour without use, and are
// reconciled against every new snapshot:
//
//   - ratelimit: permit buckets, warning decorators and the scheduler
//   - policy: policy table, document parser and group resolution
//   - cache: per-key limiter lifecycle
//
// # Usage
//
//	store := policy.NewStore(snapshot)
//	sched := ratelimit.NewCronScheduler(logger)
//	mgr, err := limits.NewManager(cfg, store, directory, sched)
//	if err != nil {
//	    return err
//	}
//
//	if d := mgr.Check(ctx, callerKey); !d.Allowed {
//	    return errors.New(d.Message)
//	}
//
// After a reload installs a new snapshot:
//
//	old := store.Swap(next)
//	report := mgr.OnPolicyChanged(ctx, old, next)
//
// # Failure Semantics
//
// Acquisition is fail-open. If a caller's groups cannot be resolved or its
// limiter cannot be built, the request is allowed, a warning is logged and
// nothing is cached, so the next request retries.
//
// # Thread Safety
//
// All Manager methods are safe for concurrent use. Reconciliation runs
// alongside live traffic; an acquisition in flight completes against either
// the old or the new limiter.
package limits
