// Package git serves the rate limit policy document from a Git repository.
//
// A Repository clones the configured branch and reads the policy file from
// the tree of the HEAD commit, so the working copy is never consulted and a
// half-applied checkout cannot be loaded. The commit hash becomes the policy
// version.
//
// # Basic Usage
//
//	repo, err := git.NewRepository(cfg.Policy.Git, logger)
//	if err != nil {
//		return err
//	}
//	if err := repo.Clone(ctx); err != nil {
//		return err
//	}
//	data, version, err := repo.ReadPolicy(ctx)
//
// # Change Detection
//
// A Watcher pulls at a fixed interval and calls its reload function when a
// new commit touches the policy file:
//
//	w := git.NewWatcher(repo, 30*time.Second, 10*time.Second, reload, logger)
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Stop()
//
// # Authentication
//
//   - token: HTTPS basic auth with the token as password
//   - ssh: public key from a file, optionally encrypted
//   - none: public repositories and local paths
package git
