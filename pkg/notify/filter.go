package notify

import (
	"context"

	"mercator-hq/packlimit/pkg/limits/policy"
)

// GroupLookup resolves the groups of a caller key.
type GroupLookup interface {
	Groups(ctx context.Context, key string) ([]policy.GroupID, error)
}

// RecipientFilter decides whether a caller receives direct notifications.
// Only identified accounts in one of the snapshot's recipient groups do.
type RecipientFilter struct {
	store  *policy.Store
	lookup GroupLookup
}

// NewRecipientFilter reads recipients from the current snapshot of store.
func NewRecipientFilter(store *policy.Store, lookup GroupLookup) *RecipientFilter {
	return &RecipientFilter{store: store, lookup: lookup}
}

// Allow reports whether key should be notified.
func (f *RecipientFilter) Allow(ctx context.Context, key string) (bool, error) {
	if !policy.IsAccountKey(key) {
		return false, nil
	}
	snap := f.store.Current()
	if len(snap.Recipients) == 0 {
		return false, nil
	}
	groups, err := f.lookup.Groups(ctx, key)
	if err != nil {
		return false, err
	}
	return snap.IsRecipient(groups), nil
}
