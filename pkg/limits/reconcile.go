package limits

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"mercator-hq/packlimit/pkg/limits/policy"
	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// Action is the reconciliation decision for one cached limiter.
type Action int

const (
	// ActionKeep leaves the limiter untouched.
	ActionKeep Action = iota

	// ActionRewarn replaces only the warning decorator; the bucket survives.
	ActionRewarn

	// ActionRebuild replaces the limiter and discards its used count.
	ActionRebuild
)

func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionRewarn:
		return "rewarn"
	case ActionRebuild:
		return "rebuild"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Plan compares a live limiter with freshly resolved values.
//
//  1. Different shape: rebuild
//  2. Same shape, different capacity or window: rebuild
//  3. Same shape, capacity and window, different warn limit: rewarn
//  4. Otherwise: keep
func Plan(cur ratelimit.Limiter, eff policy.Effective) Action {
	shape := eff.Shape()
	if cur.Shape() != shape {
		return ActionRebuild
	}

	switch shape {
	case ratelimit.ShapeBounded, ratelimit.ShapeWarning:
		if cur.MaxPermits() != eff.Limit {
			return ActionRebuild
		}
	}

	if window, ok := cur.Window(); ok && window != eff.WindowMinutes {
		return ActionRebuild
	}

	if warn, ok := cur.WarnLimit(); ok && warn != eff.Warn {
		return ActionRewarn
	}
	return ActionKeep
}

// ReconcileReport counts the outcomes of one reconciliation pass.
type ReconcileReport struct {
	Kept     int
	Rebuilt  int
	Rewarned int

	// Failed keys kept their existing limiter because resolution or
	// construction failed.
	Failed int

	// Skipped keys were evicted or swapped concurrently.
	Skipped int
}

// Total returns the number of keys visited.
func (r ReconcileReport) Total() int {
	return r.Kept + r.Rebuilt + r.Rewarned + r.Failed + r.Skipped
}

// OnPolicyChanged reconciles the cache after the store moved from old to
// next. Tables that resolve identically skip the pass.
func (m *Manager) OnPolicyChanged(ctx context.Context, old, next *policy.Snapshot) ReconcileReport {
	if old != nil && next != nil && old.Table.Equal(next.Table) {
		m.logger.Debug("policy table unchanged, skipping reconciliation", "version", next.Version)
		return ReconcileReport{}
	}
	var table *policy.Table
	if next != nil {
		table = next.Table
	}
	return m.Reconcile(ctx, table)
}

// Reconcile brings every cached limiter in line with table. Keys are
// processed independently; a failure for one key leaves its limiter in place
// and does not affect the others.
func (m *Manager) Reconcile(ctx context.Context, table *policy.Table) ReconcileReport {
	ctx, span := m.tracer.Start(ctx, "limits.Reconcile")
	defer span.End()
	start := time.Now()

	var kept, rebuilt, rewarned, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ReconcileWorkers)

	for _, key := range m.cache.Keys() {
		g.Go(func() error {
			action, err := m.reconcileKey(gctx, table, key)
			switch {
			case err != nil:
				failed.Add(1)
				m.logger.Warn("reconciliation failed, keeping existing limiter",
					"key", key,
					"error", err,
				)
			case action == nil:
				skipped.Add(1)
			case *action == ActionKeep:
				kept.Add(1)
			case *action == ActionRewarn:
				rewarned.Add(1)
			case *action == ActionRebuild:
				rebuilt.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := ReconcileReport{
		Kept:     int(kept.Load()),
		Rebuilt:  int(rebuilt.Load()),
		Rewarned: int(rewarned.Load()),
		Failed:   int(failed.Load()),
		Skipped:  int(skipped.Load()),
	}
	d := time.Since(start)
	m.metrics.RecordReconcile(report, d)

	span.SetAttributes(
		attribute.Int("reconcile.kept", report.Kept),
		attribute.Int("reconcile.rebuilt", report.Rebuilt),
		attribute.Int("reconcile.rewarned", report.Rewarned),
		attribute.Int("reconcile.failed", report.Failed),
	)
	if report.Failed > 0 {
		span.SetStatus(codes.Error, "some keys failed to reconcile")
	}

	m.logger.Info("reconciled limiters",
		"kept", report.Kept,
		"rebuilt", report.Rebuilt,
		"rewarned", report.Rewarned,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", d,
	)
	return report
}

// reconcileKey returns a nil action when the key disappeared or changed
// underneath the pass.
func (m *Manager) reconcileKey(ctx context.Context, table *policy.Table, key string) (action *Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			action, err = nil, fmt.Errorf("panic: %v", r)
			trace.SpanFromContext(ctx).AddEvent("reconcile panic", trace.WithAttributes(attribute.String("key", key)))
		}
	}()

	cur, ok := m.cache.Peek(key)
	if !ok {
		return nil, nil
	}

	eff, err := m.resolver.Resolve(ctx, table, key)
	if err != nil {
		return nil, err
	}

	a := Plan(cur, eff)
	switch a {
	case ActionKeep:
		m.cache.Restamp(key, cur, table)
		return &a, nil

	case ActionRewarn:
		next, err := m.factory.Rewarn(key, cur, eff.Warn)
		if err != nil {
			return nil, err
		}
		if !m.cache.Swap(key, cur, next, table) {
			return nil, nil
		}
		return &a, nil

	default:
		next, err := m.factory.Build(key, eff)
		if err != nil {
			return nil, err
		}
		if !m.cache.Swap(key, cur, next, table) {
			next.Close()
			return nil, nil
		}
		cur.Close()
		return &a, nil
	}
}
