package git

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ReloadFunc installs the policy at the current HEAD.
type ReloadFunc func(ctx context.Context) error

// Watcher polls a Repository and reloads when a new commit changes the
// policy file. Commits that leave the file alone only advance the tracked
// commit.
//
//	w := git.NewWatcher(repo, 30*time.Second, 10*time.Second, reload, logger)
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
type Watcher struct {
	repo         *Repository
	pollInterval time.Duration
	pollTimeout  time.Duration
	reload       ReloadFunc
	logger       *slog.Logger

	mu            sync.RWMutex
	running       bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	lastCommitSHA string
	metrics       WatcherMetrics
}

// WatcherMetrics tracks watcher operation metrics.
type WatcherMetrics struct {
	PollCount         int64
	SuccessfulReloads int64
	FailedReloads     int64
	SkippedCommits    int64
	LastReloadTime    time.Time
}

// NewWatcher creates a watcher. A non-positive interval defaults to 30s.
func NewWatcher(repo *Repository, interval, timeout time.Duration, reload ReloadFunc, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		repo:         repo,
		pollInterval: interval,
		pollTimeout:  timeout,
		reload:       reload,
		logger:       logger.With("component", "policy.git.watcher"),
	}
}

// Start records the current HEAD and begins polling in the background until
// ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	commit, err := w.repo.CurrentCommit()
	if err != nil {
		return fmt.Errorf("failed to get initial commit: %w", err)
	}
	w.lastCommitSHA = commit.SHA
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info("watcher started",
		"poll_interval", w.pollInterval,
		"initial_commit", shortSHA(commit.SHA),
	)
	go w.pollLoop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop ends polling and waits for an in-flight check to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher not running")
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("watcher stopped")
	return nil
}

// IsRunning returns true if the watcher is polling.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := w.checkForChanges(ctx); err != nil {
				w.logger.Error("error checking for changes", "error", err)
			}
		}
	}
}

// checkForChanges pulls once and reloads when the policy file changed. A
// failed reload leaves the tracked commit in place; the previous policy
// stays installed until a later commit loads cleanly.
func (w *Watcher) checkForChanges(ctx context.Context) error {
	w.mu.Lock()
	w.metrics.PollCount++
	w.mu.Unlock()

	pullCtx := ctx
	if w.pollTimeout > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, w.pollTimeout)
		defer cancel()
	}

	result, err := w.repo.Pull(pullCtx)
	if err != nil {
		return err
	}
	if !result.HadChanges {
		return nil
	}

	if !w.repo.Touches(result.ChangedFiles) {
		w.mu.Lock()
		w.metrics.SkippedCommits++
		w.lastCommitSHA = result.ToSHA
		w.mu.Unlock()
		w.logger.Debug("policy file unchanged, skipping reload",
			"to_sha", shortSHA(result.ToSHA),
			"changed_files", len(result.ChangedFiles),
		)
		return nil
	}

	w.logger.Info("policy file changed",
		"from_sha", shortSHA(result.FromSHA),
		"to_sha", shortSHA(result.ToSHA),
	)

	err = w.reload(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics.LastReloadTime = time.Now()
	if err != nil {
		w.metrics.FailedReloads++
		return fmt.Errorf("reload at %s failed: %w", shortSHA(result.ToSHA), err)
	}
	w.metrics.SuccessfulReloads++
	w.lastCommitSHA = result.ToSHA
	return nil
}

// ForceCheck polls immediately.
func (w *Watcher) ForceCheck(ctx context.Context) error {
	if !w.IsRunning() {
		return fmt.Errorf("watcher not running")
	}
	return w.checkForChanges(ctx)
}

// LastCommitSHA returns the last commit whose policy was applied or that
// did not touch the policy file.
func (w *Watcher) LastCommitSHA() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastCommitSHA
}

// Metrics returns a copy of the watcher metrics.
func (w *Watcher) Metrics() WatcherMetrics {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.metrics
}
