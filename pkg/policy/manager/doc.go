// Package manager loads the rate limit policy document and keeps the
// policy.Store current.
//
// # Core Components
//
// Loader reads the primary document, from a file or a Git repository, and
// the optional fallback file, parses both and picks the primary when it
// configures any group.
//
// Manager installs loaded snapshots into the store and hands old and new
// snapshots to the limits engine for reconciliation.
//
// FileWatcher and Debouncer turn file system events into reloads. In git
// mode a git.Watcher polls the repository instead.
//
// # Basic Usage
//
//	mgr, err := manager.New(ctx, cfg.Policy, store, engine,
//	    manager.WithLogger(logger),
//	    manager.WithRecorder(engine.Metrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := mgr.Load(ctx); err != nil {
//	    return err
//	}
//	go mgr.Watch(ctx)
//
// # Error Recovery
//
// A failed reload is logged and counted and the previous snapshot stays
// installed. LastError reports the failure until a later reload succeeds.
package manager
