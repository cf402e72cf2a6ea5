package groups

import (
	"context"
	"fmt"
	"sync"

	"mercator-hq/packlimit/pkg/limits/policy"
)

// Static is an in-memory directory built from configuration.
type Static struct {
	mu       sync.RWMutex
	byID     map[string]Account
	byName   map[string]string
	isClosed bool
}

// NewStatic indexes accounts. Account ids must be numeric and unique.
func NewStatic(accounts []Account) (*Static, error) {
	s := &Static{
		byID:   make(map[string]Account, len(accounts)),
		byName: make(map[string]string, len(accounts)),
	}
	for _, a := range accounts {
		if !policy.IsAccountKey(a.ID) {
			return nil, fmt.Errorf("groups: account id %q is not numeric", a.ID)
		}
		if _, dup := s.byID[a.ID]; dup {
			return nil, fmt.Errorf("groups: duplicate account id %q", a.ID)
		}
		s.byID[a.ID] = a
		if a.Username != "" {
			s.byName[a.Username] = a.ID
		}
	}
	return s, nil
}

// Groups returns the effective groups of key. Unknown accounts have the
// implicit groups only.
func (s *Static) Groups(_ context.Context, key string) ([]policy.GroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return nil, ErrClosed
	}
	return effective(s.byID[key].Groups), nil
}

func (s *Static) IsAnonymous(key string) bool { return isAnonymous(key) }

// UserName returns the username of an account.
func (s *Static) UserName(_ context.Context, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[key]
	if !ok || a.Username == "" {
		return "", false
	}
	return a.Username, true
}

// AccountKey returns the account id of username.
func (s *Static) AccountKey(_ context.Context, username string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[username]
	return id, ok
}

// Ping fails once the directory is closed.
func (s *Static) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return ErrClosed
	}
	return nil
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isClosed = true
	return nil
}
