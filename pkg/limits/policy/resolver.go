package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

// DefaultWindowMinutes is the window used when no valid window is configured.
const DefaultWindowMinutes = 60

// Directory resolves caller identities to group memberships.
type Directory interface {
	// Groups returns the effective groups of an identified caller.
	Groups(ctx context.Context, key string) ([]GroupID, error)

	// IsAnonymous reports whether key is a remote host rather than an account.
	IsAnonymous(key string) bool
}

// IsAccountKey reports whether key is a decimal account id.
func IsAccountKey(key string) bool {
	if key == "" {
		return false
	}
	_, err := strconv.ParseUint(key, 10, 63)
	return err == nil
}

// ResolutionError reports a failure to resolve the groups of a caller.
type ResolutionError struct {
	Key   string
	Cause error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve groups for %q: %v", e.Key, e.Cause)
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

// Effective are the resolved values for one caller against one table.
type Effective = ratelimit.Params

// Resolver derives effective limits from a table and a directory.
type Resolver struct {
	dir           Directory
	defaultWindow int
	logger        *slog.Logger
}

// NewResolver creates a resolver. A non-positive defaultWindow selects
// DefaultWindowMinutes.
func NewResolver(dir Directory, defaultWindow int, logger *slog.Logger) *Resolver {
	if defaultWindow <= 0 {
		defaultWindow = DefaultWindowMinutes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		dir:           dir,
		defaultWindow: defaultWindow,
		logger:        logger.With("component", "policy.resolver"),
	}
}

// DefaultWindow returns the window in minutes used when none is configured.
func (r *Resolver) DefaultWindow() int { return r.defaultWindow }

// Groups returns the memberships used for resolution. Anonymous callers
// belong to AnonymousUsers only.
func (r *Resolver) Groups(ctx context.Context, key string) ([]GroupID, error) {
	if r.dir == nil || r.dir.IsAnonymous(key) {
		return []GroupID{AnonymousUsers}, nil
	}
	groups, err := r.dir.Groups(ctx, key)
	if err != nil {
		return nil, &ResolutionError{Key: key, Cause: err}
	}
	return groups, nil
}

// Find returns the first policy of kind, in table order, whose group the
// caller belongs to.
func (r *Resolver) Find(ctx context.Context, t *Table, kind Kind, key string) (Policy, bool, error) {
	groups, err := r.Groups(ctx, key)
	if err != nil {
		return Policy{}, false, err
	}
	p, ok := find(t, kind, groups)
	return p, ok, nil
}

func find(t *Table, kind Kind, groups []GroupID) (Policy, bool) {
	if t == nil {
		return Policy{}, false
	}
	member := make(map[GroupID]struct{}, len(groups))
	for _, g := range groups {
		member[g] = struct{}{}
	}
	for _, e := range t.rows[kind] {
		if _, ok := member[e.group]; ok {
			return e.policy, true
		}
	}
	return Policy{}, false
}

// Resolve returns the effective limit, warn threshold and window for key.
func (r *Resolver) Resolve(ctx context.Context, t *Table, key string) (Effective, error) {
	groups, err := r.Groups(ctx, key)
	if err != nil {
		return Effective{}, err
	}

	eff := Effective{WindowMinutes: r.defaultWindow}
	if p, ok := find(t, KindLimit, groups); ok {
		eff.Limit, eff.HasLimit = p.Value, true
	}
	if p, ok := find(t, KindWarn, groups); ok {
		eff.Warn, eff.HasWarn = p.Value, true
	}
	if p, ok := find(t, KindWindow, groups); ok {
		if p.Value > 0 && p.Value <= r.defaultWindow {
			eff.WindowMinutes = p.Value
		} else {
			r.logger.Warn("window out of range, using default",
				"key", key,
				"configured_minutes", p.Value,
				"default_minutes", r.defaultWindow,
			)
		}
	}
	return eff, nil
}
