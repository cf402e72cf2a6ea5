package policy

import "sync/atomic"

// empty stands in for a store that has never been swapped. It is shared so
// that callers comparing tables by identity see a stable value.
var empty = &Snapshot{Table: NewTable(nil)}

// Store holds the current snapshot. Readers never block writers.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a store holding s, which may be nil.
func NewStore(s *Snapshot) *Store {
	st := &Store{}
	if s != nil {
		st.current.Store(s)
	}
	return st
}

// Current returns the installed snapshot, or an empty one.
func (st *Store) Current() *Snapshot {
	if s := st.current.Load(); s != nil {
		return s
	}
	return empty
}

// Swap installs s and returns the previous snapshot.
func (st *Store) Swap(s *Snapshot) *Snapshot {
	old := st.current.Swap(s)
	if old == nil {
		old = empty
	}
	return old
}
