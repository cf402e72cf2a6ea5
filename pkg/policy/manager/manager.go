package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/packlimit/pkg/config"
	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/limits/policy"
	"mercator-hq/packlimit/pkg/policy/git"
	"mercator-hq/packlimit/pkg/telemetry/tracing"
)

// Reconciler is notified after a new snapshot is installed.
type Reconciler interface {
	OnPolicyChanged(ctx context.Context, old, next *policy.Snapshot) limits.ReconcileReport
}

// ReloadRecorder counts reload outcomes.
type ReloadRecorder interface {
	RecordReload(result string)
}

// Reload outcomes.
const (
	ResultApplied   = "applied"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

// Result describes one reload.
type Result struct {
	// Outcome is ResultApplied, ResultUnchanged or ResultFailed.
	Outcome string

	// Version of the installed snapshot.
	Version string

	// Report is the reconciliation report of an applied reload.
	Report limits.ReconcileReport

	Duration time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracer sets the tracer used for reload spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithRecorder sets the reload outcome recorder.
func WithRecorder(r ReloadRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLoader replaces the loader built from configuration.
func WithLoader(l *Loader) Option {
	return func(m *Manager) { m.loader = l }
}

// Manager loads the policy document into a policy.Store and keeps it
// current.
//
// Reloads are all-or-nothing: a document that cannot be read or parsed
// leaves the installed snapshot untouched. A document whose text equals the
// installed one is skipped, so a touched but unchanged file costs nothing.
type Manager struct {
	cfg      config.PolicyConfig
	loader   *Loader
	store    *policy.Store
	engine   Reconciler
	recorder ReloadRecorder
	tracer   trace.Tracer
	logger   *slog.Logger

	gitRepo *git.Repository

	reloadMu sync.Mutex

	mu            sync.RWMutex
	lastLoadTime  time.Time
	lastLoadError error

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
}

// New creates a manager. In git mode the repository is cloned before New
// returns.
func New(ctx context.Context, cfg config.PolicyConfig, store *policy.Store, engine Reconciler, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("manager: policy store is required")
	}

	m := &Manager{cfg: cfg, store: store, engine: engine}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "policy.manager")
	if m.tracer == nil {
		m.tracer = otel.Tracer("mercator-hq/packlimit/policy")
	}
	if m.loader != nil {
		return m, nil
	}

	var primary Reader
	switch cfg.Mode {
	case "git":
		repo, err := git.NewRepository(cfg.Git, m.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create git repository: %w", err)
		}
		if err := repo.Clone(ctx); err != nil {
			return nil, fmt.Errorf("failed to clone repository: %w", err)
		}
		m.gitRepo = repo
		primary = repo
	case "file", "":
		primary = FileReader{Path: cfg.FilePath}
	default:
		return nil, fmt.Errorf("unknown policy mode %q", cfg.Mode)
	}

	var fallback Reader
	if cfg.FallbackPath != "" {
		fallback = FileReader{Path: cfg.FallbackPath}
	}
	m.loader = NewLoader(primary, fallback, m.logger)
	return m, nil
}

// Load installs the initial policy. It is Reload with the error returned
// directly, for startup.
func (m *Manager) Load(ctx context.Context) error {
	_, err := m.Reload(ctx)
	return err
}

// Reload reads the policy source and installs the result if it differs from
// the current snapshot. Cached limiters are reconciled before Reload
// returns.
func (m *Manager) Reload(ctx context.Context) (Result, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	ctx, span := m.tracer.Start(ctx, "policy.Reload", trace.WithAttributes(
		tracing.KeyPolicySource.String(m.loader.Primary().Name()),
	))
	defer span.End()
	start := time.Now()

	next, err := m.loader.Load(ctx)
	if err != nil {
		m.setLoadError(err)
		m.record(ResultFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy load failed")
		m.logger.Error("failed to load policy, keeping previous policy",
			"source", m.loader.Primary().Name(),
			"error", err,
		)
		return Result{Outcome: ResultFailed, Version: m.store.Current().Version, Duration: time.Since(start)}, err
	}

	cur := m.store.Current()
	if !cur.LoadedAt.IsZero() && cur.Source == next.Source {
		m.setLoadError(nil)
		m.record(ResultUnchanged)
		span.SetAttributes(attribute.String("policy.result", ResultUnchanged))
		m.logger.Debug("policy unchanged, skipping reload", "version", cur.Version)
		return Result{Outcome: ResultUnchanged, Version: cur.Version, Duration: time.Since(start)}, nil
	}

	old := m.store.Swap(next)
	var report limits.ReconcileReport
	if m.engine != nil {
		report = m.engine.OnPolicyChanged(ctx, old, next)
	}

	m.mu.Lock()
	m.lastLoadTime = next.LoadedAt
	m.lastLoadError = nil
	m.mu.Unlock()
	m.record(ResultApplied)

	d := time.Since(start)
	span.SetAttributes(
		attribute.String("policy.result", ResultApplied),
		tracing.KeyPolicyVersion.String(next.Version),
	)
	m.logger.Info("policy loaded",
		"version", next.Version,
		"previous_version", old.Version,
		"groups", len(next.Table.AllGroups()),
		"rebuilt", report.Rebuilt,
		"rewarned", report.Rewarned,
		"duration", d,
	)
	return Result{Outcome: ResultApplied, Version: next.Version, Report: report, Duration: d}, nil
}

// ValidateDryRun loads and parses the policy source without installing it.
func (m *Manager) ValidateDryRun(ctx context.Context) (*policy.Snapshot, error) {
	snap, err := m.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy validation failed: %w", err)
	}
	return snap, nil
}

// Watch reloads on source changes until ctx ends or Close is called. In
// file mode it returns ErrWatchDisabled unless watching is configured.
func (m *Manager) Watch(ctx context.Context) error {
	m.watchMu.Lock()
	if m.watchCancel != nil {
		m.watchMu.Unlock()
		return fmt.Errorf("watch already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	m.watchMu.Unlock()
	defer func() {
		cancel()
		m.watchMu.Lock()
		m.watchCancel = nil
		m.watchMu.Unlock()
	}()

	reload := func(ctx context.Context) error {
		_, err := m.Reload(ctx)
		return err
	}

	if m.gitRepo != nil {
		w := git.NewWatcher(m.gitRepo, m.cfg.Git.Poll.Interval, m.cfg.Git.Poll.Timeout, reload, m.logger)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start git watcher: %w", err)
		}
		<-ctx.Done()
		return w.Stop()
	}

	if !m.cfg.Watch {
		return ErrWatchDisabled
	}

	paths := []string{m.cfg.FilePath}
	if m.cfg.FallbackPath != "" {
		paths = append(paths, m.cfg.FallbackPath)
	}
	fw, err := NewFileWatcher(paths, m.cfg.Debounce, m.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	return fw.Watch(ctx, reload)
}

// LastLoadTime returns when the installed snapshot was loaded.
func (m *Manager) LastLoadTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLoadTime
}

// LastError returns the error of the most recent reload, or nil when it
// succeeded.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastLoadError
}

// Source names the primary policy document.
func (m *Manager) Source() string { return m.loader.Primary().Name() }

// Close stops a running Watch.
func (m *Manager) Close() error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	return nil
}

func (m *Manager) setLoadError(err error) {
	m.mu.Lock()
	m.lastLoadError = err
	m.mu.Unlock()
}

func (m *Manager) record(result string) {
	if m.recorder != nil {
		m.recorder.RecordReload(result)
	}
}
