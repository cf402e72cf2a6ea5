package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/packlimit/pkg/limits/cache"
	"mercator-hq/packlimit/pkg/limits/policy"
	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// Config contains configuration for the limits manager.
type Config struct {
	// DefaultWindowMinutes bounds configured windows and replaces invalid ones.
	DefaultWindowMinutes int

	// InitialReplenishDelay is the delay before a new bucket's first
	// replenishment. Zero means one full window.
	InitialReplenishDelay time.Duration

	// IdleExpiry evicts limiters not used for this long.
	IdleExpiry time.Duration

	// SweepInterval is how often idle limiters are evicted.
	SweepInterval time.Duration

	// ReconcileWorkers bounds the parallelism of a reconciliation pass.
	ReconcileWorkers int

	// LimitType labels the limited operation in events.
	LimitType string
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithNotifier sets the receiver of warn and blocked events.
func WithNotifier(n ratelimit.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithRegisterer registers metrics with reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.registerer = reg }
}

// WithTracer sets the tracer used for reload and reconciliation spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithClock sets the clock used for idle tracking and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the rate limiting engine: it serves acquisitions from the
// limiter cache, answers administrative queries and reconciles cached
// limiters when the policy changes.
//
// # Example
//
//	mgr, err := limits.NewManager(cfg, store, dir, sched, limits.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	if !mgr.Acquire(ctx, callerKey) {
//	    // Reject the negotiation
//	}
type Manager struct {
	cfg      Config
	store    *policy.Store
	dir      policy.Directory
	resolver *Resolver
	factory  *ratelimit.Factory
	cache    *cache.Cache

	notifier   ratelimit.Notifier
	registerer prometheus.Registerer
	metrics    *Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// Resolver is the policy resolver used by the manager.
type Resolver = policy.Resolver

// NewManager creates a manager. The scheduler drives bucket replenishment
// and cache sweeps and must outlive the manager.
func NewManager(cfg Config, store *policy.Store, dir policy.Directory, sched ratelimit.Scheduler, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("limits: policy store is required")
	}
	if sched == nil {
		return nil, errors.New("limits: scheduler is required")
	}
	if cfg.ReconcileWorkers <= 0 {
		cfg.ReconcileWorkers = 8
	}

	m := &Manager{cfg: cfg, store: store, dir: dir}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "limits.manager")
	if m.tracer == nil {
		m.tracer = otel.Tracer("mercator-hq/packlimit/limits")
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.metrics = NewMetrics(m.registerer)

	m.resolver = policy.NewResolver(dir, cfg.DefaultWindowMinutes, m.logger)
	m.factory = &ratelimit.Factory{
		Scheduler: sched,
		Notifier:  m.countingNotifier(),
		Options:   ratelimit.Options{InitialDelay: cfg.InitialReplenishDelay},
		LimitType: cfg.LimitType,
		Now:       m.now,
	}

	c, err := cache.New(m.load, cache.Config{
		IdleExpiry:    cfg.IdleExpiry,
		SweepInterval: cfg.SweepInterval,
		Scheduler:     sched,
		Now:           m.now,
		Logger:        m.logger,
		OnEvict: func(key string, reason cache.EvictReason) {
			m.metrics.RecordEviction(string(reason))
		},
	})
	if err != nil {
		return nil, err
	}
	m.cache = c
	m.metrics.ObserveCacheSize(c.Len)

	return m, nil
}

func (m *Manager) countingNotifier() ratelimit.Notifier {
	return ratelimit.NotifierFunc(func(e ratelimit.Event) {
		m.metrics.RecordEvent(string(e.Kind))
		if m.notifier != nil {
			m.notifier.Notify(e)
		}
	})
}

// load builds the limiter for a cache miss from the current policy. The
// entry is stamped with the table it was resolved against.
func (m *Manager) load(ctx context.Context, key string) (ratelimit.Limiter, any, error) {
	table := m.store.Current().Table
	eff, err := m.resolver.Resolve(ctx, table, key)
	if err != nil {
		return nil, nil, err
	}
	l, err := m.factory.Build(key, eff)
	if err != nil {
		return nil, nil, err
	}
	return l, table, nil
}

// limiter returns the cached limiter for key. A limiter built from a table
// that has since been replaced is reconciled against the current one before
// it is used: a miss may resolve against the old table and insert after a
// reconciliation pass already listed the cached keys.
func (m *Manager) limiter(ctx context.Context, key string) (ratelimit.Limiter, error) {
	l, stamp, err := m.cache.GetStamped(ctx, key)
	if err != nil {
		return nil, err
	}
	table := m.store.Current().Table
	if stamp == table {
		return l, nil
	}
	return m.refresh(ctx, key, l, stamp, table), nil
}

func (m *Manager) refresh(ctx context.Context, key string, cur ratelimit.Limiter, stamp any, table *policy.Table) ratelimit.Limiter {
	if built, ok := stamp.(*policy.Table); ok && built.Equal(table) {
		m.cache.Restamp(key, cur, table)
		return cur
	}

	action, err := m.reconcileKey(ctx, table, key)
	if err != nil {
		m.logger.Warn("cannot reconcile stale limiter, keeping it",
			"key", key,
			"error", err,
		)
		return cur
	}
	if action != nil && *action != ActionKeep {
		m.logger.Debug("reconciled limiter built from a replaced policy",
			"key", key,
			"action", action.String(),
		)
	}
	if l, ok := m.cache.Peek(key); ok {
		return l
	}
	return cur
}

// Metrics returns the manager's metrics, shared with the reload path.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Resolver returns the resolver used to build limiters.
func (m *Manager) Resolver() *Resolver { return m.resolver }

// Store returns the policy store.
func (m *Manager) Store() *policy.Store { return m.store }

// Acquire consumes one permit for key. It never fails: if the limiter cannot
// be built the caller is let through.
func (m *Manager) Acquire(ctx context.Context, key string) bool {
	return m.Check(ctx, key).Allowed
}

// Check acquires one permit for key and describes the outcome.
func (m *Manager) Check(ctx context.Context, key string) Decision {
	l, err := m.limiter(ctx, key)
	if err != nil {
		m.logger.Warn("cannot get rate limits, allowing request",
			"key", key,
			"error", err,
		)
		m.metrics.RecordAcquire("fail_open")
		return Decision{Allowed: true, FailOpen: true, MaxPermits: ratelimit.Unlimited}
	}

	if l.Acquire() {
		m.metrics.RecordAcquire("granted")
		return Decision{Allowed: true, MaxPermits: l.MaxPermits()}
	}

	m.metrics.RecordAcquire("denied")
	return Decision{
		Allowed:    false,
		MaxPermits: l.MaxPermits(),
		Message:    m.store.Current().ExceededMessageFor(l.MaxPermits()),
		RetryAfter: l.RemainingTime(),
	}
}

// Limiter returns the cached limiter for key without building one.
func (m *Manager) Limiter(key string) (ratelimit.Limiter, bool) {
	return m.cache.Peek(key)
}

// ListAll returns the status of every cached limiter, most available first.
func (m *Manager) ListAll(ctx context.Context) []Status {
	namer, _ := m.dir.(UserNamer)

	snap := m.cache.Snapshot()
	out := make([]Status, 0, len(snap))
	for _, e := range snap {
		st := Status{
			Key:           e.Key,
			DisplayName:   e.Key,
			Shape:         e.Limiter.Shape(),
			MaxPermits:    e.Limiter.MaxPermits(),
			Available:     e.Limiter.AvailablePermits(),
			Used:          e.Limiter.UsedPermits(),
			RemainingTime: e.Limiter.RemainingTime(),
		}
		if namer != nil && policy.IsAccountKey(e.Key) {
			if name, ok := namer.UserName(ctx, e.Key); ok {
				st.DisplayName = fmt.Sprintf("%s (%s)", e.Key, name)
			}
		}
		out = append(out, st)
	}
	return out
}

// ReplenishAll replenishes every cached limiter and returns how many.
func (m *Manager) ReplenishAll() int {
	n := 0
	for _, e := range m.cache.Snapshot() {
		e.Limiter.Replenish()
		n++
	}
	m.metrics.RecordReplenish("all", n)
	m.logger.Info("replenished all limiters", "count", n)
	return n
}

// Replenish replenishes the cached limiters of keys and returns how many
// were found.
func (m *Manager) Replenish(keys ...string) int {
	n := 0
	for _, key := range keys {
		if l, ok := m.cache.Peek(key); ok {
			l.Replenish()
			n++
		}
	}
	m.metrics.RecordReplenish("key", n)
	return n
}

// ReplenishRequest validates req and replenishes the selected limiters.
// Users may be given as account ids or, when the directory supports it, as
// names.
func (m *Manager) ReplenishRequest(ctx context.Context, req ReplenishRequest) (int, error) {
	if req.All {
		if len(req.Users) > 0 || len(req.RemoteHosts) > 0 {
			return 0, ErrReplenishConflict
		}
		return m.ReplenishAll(), nil
	}
	if len(req.Users) == 0 && len(req.RemoteHosts) == 0 {
		return 0, ErrReplenishEmpty
	}

	keys := make([]string, 0, len(req.Users)+len(req.RemoteHosts))
	resolver, _ := m.dir.(AccountResolver)
	for _, u := range req.Users {
		if policy.IsAccountKey(u) {
			keys = append(keys, u)
			continue
		}
		if resolver == nil {
			return 0, fmt.Errorf("%w: %s", ErrUnknownUser, u)
		}
		key, ok := resolver.AccountKey(ctx, u)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownUser, u)
		}
		keys = append(keys, key)
	}
	keys = append(keys, req.RemoteHosts...)

	n := m.Replenish(keys...)
	m.logger.Info("replenished limiters", "requested", len(keys), "replenished", n)
	return n, nil
}

// Invalidate evicts the limiter of key. The next acquisition rebuilds it.
func (m *Manager) Invalidate(key string) bool {
	return m.cache.Invalidate(key)
}

// Len returns the number of cached limiters.
func (m *Manager) Len() int { return m.cache.Len() }

// Close disposes every cached limiter. The scheduler is stopped separately.
func (m *Manager) Close() {
	m.cache.Close()
}
