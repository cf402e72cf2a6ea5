package policy

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the type of a rate limit policy.
type Kind int

const (
	// KindLimit is the main permit count per window.
	KindLimit Kind = iota

	// KindWarn is the soft threshold at which a warn event fires.
	KindWarn

	// KindWindow is the window length in minutes.
	KindWindow
)

// Kinds lists every kind in table order.
var Kinds = []Kind{KindLimit, KindWarn, KindWindow}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "uploadpackperhour"
	case KindWarn:
		return "uploadpackperhourwarn"
	case KindWindow:
		return "timelapseinminutes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a configuration name to a Kind, ignoring case.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if strings.EqualFold(name, k.String()) {
			return k, true
		}
	}
	return 0, false
}

// GroupID identifies an authorization group by name.
type GroupID string

const (
	// AnonymousUsers is the implicit group of every caller.
	AnonymousUsers GroupID = "Anonymous Users"

	// RegisteredUsers is the implicit group of every identified caller.
	RegisteredUsers GroupID = "Registered Users"
)

// Policy is one configured value.
type Policy struct {
	Kind  Kind
	Value int
}

// GroupPolicies are the policies configured for one group.
type GroupPolicies struct {
	Group    GroupID
	Policies []Policy
}

type tableEntry struct {
	group  GroupID
	policy Policy
}

// Table maps (Kind, GroupID) to Policy. For each kind the groups keep the
// order in which they were configured. A Table is never mutated after
// NewTable returns.
type Table struct {
	rows     map[Kind][]tableEntry
	ordering []GroupID
}

// NewTable builds a table from groups in priority order. A later value for
// the same group and kind replaces the earlier one.
func NewTable(groups []GroupPolicies) *Table {
	t := &Table{rows: make(map[Kind][]tableEntry)}
	for _, g := range groups {
		t.ordering = append(t.ordering, g.Group)
		for _, p := range g.Policies {
			t.put(g.Group, p)
		}
	}
	return t
}

func (t *Table) put(group GroupID, p Policy) {
	row := t.rows[p.Kind]
	for i := range row {
		if row[i].group == group {
			row[i].policy = p
			return
		}
	}
	t.rows[p.Kind] = append(row, tableEntry{group: group, policy: p})
}

// Lookup returns the policy of kind for group.
func (t *Table) Lookup(kind Kind, group GroupID) (Policy, bool) {
	if t == nil {
		return Policy{}, false
	}
	for _, e := range t.rows[kind] {
		if e.group == group {
			return e.policy, true
		}
	}
	return Policy{}, false
}

// Groups returns the groups with a policy of kind, in priority order.
func (t *Table) Groups(kind Kind) []GroupID {
	if t == nil {
		return nil
	}
	row := t.rows[kind]
	out := make([]GroupID, len(row))
	for i, e := range row {
		out[i] = e.group
	}
	return out
}

// AllGroups returns every configured group in document order.
func (t *Table) AllGroups() []GroupID {
	if t == nil {
		return nil
	}
	return append([]GroupID(nil), t.ordering...)
}

// Empty reports whether the table configures no groups.
func (t *Table) Empty() bool {
	return t == nil || len(t.ordering) == 0
}

// Equal reports whether both tables resolve every caller identically.
func (t *Table) Equal(o *Table) bool {
	if t.Empty() || o.Empty() {
		return t.Empty() == o.Empty()
	}
	for _, k := range Kinds {
		a, b := t.rows[k], o.rows[k]
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// Snapshot is one installed policy generation.
type Snapshot struct {
	Table           *Table
	Recipients      []GroupID
	ExceededMessage string

	// Source is the raw document text. Reloads with identical text are skipped.
	Source string

	// Version identifies the origin, a file checksum or a commit hash.
	Version  string
	LoadedAt time.Time
}

// DefaultExceededMessage is used when a document does not configure one.
const DefaultExceededMessage = "Exceeded rate limit of ${rateLimit} fetch requests/hour"

// RateLimitToken is replaced by the caller's limit in the exceeded message.
const RateLimitToken = "${rateLimit}"

// ExceededMessageFor renders the exceeded message for a limit.
func (s *Snapshot) ExceededMessageFor(limit int) string {
	msg := DefaultExceededMessage
	if s != nil && s.ExceededMessage != "" {
		msg = s.ExceededMessage
	}
	return strings.ReplaceAll(msg, RateLimitToken, fmt.Sprint(limit))
}

// IsRecipient reports whether any of groups is configured to receive
// notifications.
func (s *Snapshot) IsRecipient(groups []GroupID) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Recipients {
		for _, g := range groups {
			if r == g {
				return true
			}
		}
	}
	return false
}
