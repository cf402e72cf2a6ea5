package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"mercator-hq/packlimit/pkg/config"
)

// Repository is a local clone of the policy repository.
type Repository struct {
	cfg       config.GitPolicyConfig
	localPath string
	auth      Credentials
	logger    *slog.Logger

	mu      sync.RWMutex
	repo    *gogit.Repository
	metrics RepositoryMetrics
}

// NewRepository validates cfg and prepares a repository. Nothing is fetched
// until Clone.
func NewRepository(cfg config.GitPolicyConfig, logger *slog.Logger) (*Repository, error) {
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("policy path cannot be empty")
	}

	auth, err := NewCredentials(cfg.Auth, cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials: %w", err)
	}

	localPath := cfg.LocalPath
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), "packlimit-policy")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Repository{
		cfg:       cfg,
		localPath: localPath,
		auth:      auth,
		logger:    logger.With("component", "policy.git", "repository", cfg.Repository),
	}, nil
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Poll.Timeout > 0 {
		return context.WithTimeout(ctx, r.cfg.Poll.Timeout)
	}
	return context.WithCancel(ctx)
}

// Clone clones the tracked branch, or opens an existing clone at the local
// path.
func (r *Repository) Clone(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		r.metrics.CloneDuration = time.Since(start)
	}()

	if _, err := os.Stat(filepath.Join(r.localPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(r.localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo: %w", err)
		}
		r.repo = repo
		r.logger.Info("opened existing policy clone", "path", r.localPath)
		return nil
	}

	if err := os.MkdirAll(r.localPath, 0755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}

	auth, err := r.auth.Method()
	if err != nil {
		return fmt.Errorf("failed to get auth: %w", err)
	}

	cloneCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	repo, err := gogit.PlainCloneContext(cloneCtx, r.localPath, false, &gogit.CloneOptions{
		URL:           r.cfg.Repository,
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	r.repo = repo
	r.logger.Info("cloned policy repository",
		"branch", r.cfg.Branch,
		"auth", r.auth.Kind(),
		"duration", time.Since(start),
	)
	return nil
}

// Pull fetches the tracked branch and reports which files changed.
func (r *Repository) Pull(ctx context.Context) (*PullResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		r.metrics.PullDuration = time.Since(start)
		r.metrics.LastPullTime = time.Now()
	}()

	if r.repo == nil {
		return nil, fmt.Errorf("repository not initialized, call Clone() first")
	}

	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	fromSHA := ref.Hash().String()

	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	auth, err := r.auth.Method()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth: %w", err)
	}

	pullCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	err = worktree.PullContext(pullCtx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		r.metrics.FailedPulls++
		return nil, fmt.Errorf("failed to pull: %w", err)
	}
	r.metrics.SuccessfulPulls++

	newRef, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get new HEAD: %w", err)
	}
	toSHA := newRef.Hash().String()

	result := &PullResult{
		FromSHA:    fromSHA,
		ToSHA:      toSHA,
		HadChanges: fromSHA != toSHA,
	}
	if result.HadChanges {
		files, err := r.changedFiles(fromSHA, toSHA)
		if err != nil {
			return nil, fmt.Errorf("failed to get changed files: %w", err)
		}
		result.ChangedFiles = files
		r.metrics.LastCommitSHA = toSHA
	}
	return result, nil
}

func (r *Repository) changedFiles(fromSHA, toSHA string) ([]string, error) {
	fromCommit, err := r.repo.CommitObject(plumbing.NewHash(fromSHA))
	if err != nil {
		return nil, fmt.Errorf("failed to get from commit: %w", err)
	}
	toCommit, err := r.repo.CommitObject(plumbing.NewHash(toSHA))
	if err != nil {
		return nil, fmt.Errorf("failed to get to commit: %w", err)
	}

	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get from tree: %w", err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get to tree: %w", err)
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	var files []string
	for _, change := range changes {
		if change.To.Name != "" {
			files = append(files, change.To.Name)
		} else if change.From.Name != "" {
			files = append(files, change.From.Name)
		}
	}
	return files, nil
}

// CurrentCommit returns metadata about the HEAD commit.
func (r *Repository) CurrentCommit() (*CommitInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commit, err := r.head()
	if err != nil {
		return nil, err
	}
	return &CommitInfo{
		SHA:       commit.Hash.String(),
		Author:    commit.Author.Name,
		Email:     commit.Author.Email,
		Timestamp: commit.Author.When,
		Message:   commit.Message,
		Branch:    r.cfg.Branch,
	}, nil
}

func (r *Repository) head() (*object.Commit, error) {
	if r.repo == nil {
		return nil, fmt.Errorf("repository not initialized, call Clone() first")
	}
	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	return commit, nil
}

// Name identifies the policy document in errors and logs.
func (r *Repository) Name() string {
	return fmt.Sprintf("%s@%s:%s", r.cfg.Repository, r.cfg.Branch, r.cfg.Path)
}

// ReadPolicy returns the policy file at HEAD and the abbreviated commit hash.
// A missing file is reported with fs.ErrNotExist.
func (r *Repository) ReadPolicy(ctx context.Context) ([]byte, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commit, err := r.head()
	if err != nil {
		return nil, "", err
	}
	f, err := commit.File(r.policyPath())
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, "", fmt.Errorf("%s at %s: %w", r.cfg.Path, shortSHA(commit.Hash.String()), fs.ErrNotExist)
		}
		return nil, "", fmt.Errorf("failed to read %s: %w", r.cfg.Path, err)
	}
	contents, err := f.Contents()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", r.cfg.Path, err)
	}
	return []byte(contents), shortSHA(commit.Hash.String()), nil
}

// policyPath is the slash separated path of the policy file in the tree.
func (r *Repository) policyPath() string {
	return path.Clean(filepath.ToSlash(r.cfg.Path))
}

// Touches reports whether any of files is the policy document.
func (r *Repository) Touches(files []string) bool {
	want := r.policyPath()
	for _, f := range files {
		if path.Clean(f) == want {
			return true
		}
	}
	return false
}

// Metrics returns a copy of the operation metrics.
func (r *Repository) Metrics() RepositoryMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics
}

// LocalPath returns where the repository is cloned.
func (r *Repository) LocalPath() string {
	return r.localPath
}
