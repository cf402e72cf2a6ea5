package testutil

import (
	"context"
	"sync"

	"mercator-hq/packlimit/pkg/limits/policy"
)

// Directory is an in-memory policy.Directory. Numeric keys are accounts.
type Directory struct {
	mu     sync.Mutex
	groups map[string][]policy.GroupID
	errs   map[string]error
	calls  int
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		groups: make(map[string][]policy.GroupID),
		errs:   make(map[string]error),
	}
}

// Set assigns groups to an account key.
func (d *Directory) Set(key string, groups ...policy.GroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[key] = groups
	delete(d.errs, key)
}

// Fail makes lookups for key return err.
func (d *Directory) Fail(key string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[key] = err
}

// Calls returns how many Groups lookups were made.
func (d *Directory) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Directory) Groups(_ context.Context, key string) ([]policy.GroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if err := d.errs[key]; err != nil {
		return nil, err
	}
	return append([]policy.GroupID{policy.AnonymousUsers, policy.RegisteredUsers}, d.groups[key]...), nil
}

func (d *Directory) IsAnonymous(key string) bool {
	return !policy.IsAccountKey(key)
}
