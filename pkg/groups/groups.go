package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/packlimit/pkg/config"
	"mercator-hq/packlimit/pkg/limits/policy"
)

// ErrClosed is returned by lookups on a closed directory.
var ErrClosed = errors.New("groups: directory closed")

// Account is an identified caller.
type Account struct {
	// ID is the decimal account id, used as the caller key.
	ID string

	// Username is the display and lookup name. It may be empty.
	Username string

	// Groups are the explicit memberships. Every account implicitly belongs
	// to policy.AnonymousUsers and policy.RegisteredUsers as well.
	Groups []policy.GroupID
}

// Directory is a group directory usable by the limits engine: it resolves
// memberships, display names and account ids from usernames.
type Directory interface {
	policy.Directory
	UserName(ctx context.Context, key string) (string, bool)
	AccountKey(ctx context.Context, username string) (string, bool)
	Close() error
}

// effective prepends the implicit groups to explicit ones.
func effective(explicit []policy.GroupID) []policy.GroupID {
	out := make([]policy.GroupID, 0, len(explicit)+2)
	out = append(out, policy.AnonymousUsers, policy.RegisteredUsers)
	for _, g := range explicit {
		if g == policy.AnonymousUsers || g == policy.RegisteredUsers {
			continue
		}
		out = append(out, g)
	}
	return out
}

// isAnonymous is shared by every directory: remote hosts are anonymous.
func isAnonymous(key string) bool {
	return !policy.IsAccountKey(key)
}

// Open builds the directory selected by cfg.Backend.
func Open(ctx context.Context, cfg config.GroupsConfig, logger *slog.Logger) (Directory, error) {
	switch cfg.Backend {
	case "", "static":
		accounts := make([]Account, 0, len(cfg.Accounts))
		for _, a := range cfg.Accounts {
			gs := make([]policy.GroupID, len(a.Groups))
			for i, g := range a.Groups {
				gs[i] = policy.GroupID(g)
			}
			accounts = append(accounts, Account{ID: a.ID, Username: a.Username, Groups: gs})
		}
		return NewStatic(accounts)
	case "sqlite":
		return OpenSQLite(ctx, SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		}, logger)
	default:
		return nil, fmt.Errorf("groups: unknown backend %q", cfg.Backend)
	}
}
