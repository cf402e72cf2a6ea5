package groups

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"mercator-hq/packlimit/pkg/config"
	"mercator-hq/packlimit/pkg/limits/policy"
	"mercator-hq/packlimit/pkg/telemetry/logging"
)

var implicit = []policy.GroupID{policy.AnonymousUsers, policy.RegisteredUsers}

// ============================================================================
// Static
// ============================================================================

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s, err := NewStatic([]Account{
		{ID: "1000", Username: "alice", Groups: []policy.GroupID{"Developers", policy.RegisteredUsers}},
		{ID: "1001"},
	})
	if err != nil {
		t.Fatalf("NewStatic() error = %v", err)
	}

	got, err := s.Groups(ctx, "1000")
	if err != nil {
		t.Fatalf("Groups() error = %v", err)
	}
	want := append(append([]policy.GroupID{}, implicit...), "Developers")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	got, _ = s.Groups(ctx, "4242")
	if !reflect.DeepEqual(got, implicit) {
		t.Errorf("Expected implicit groups for unknown account, got %v", got)
	}

	if name, ok := s.UserName(ctx, "1000"); !ok || name != "alice" {
		t.Errorf("Expected alice, got %q (%v)", name, ok)
	}
	if _, ok := s.UserName(ctx, "1001"); ok {
		t.Error("Expected no username for 1001")
	}
	if id, ok := s.AccountKey(ctx, "alice"); !ok || id != "1000" {
		t.Errorf("Expected 1000, got %q (%v)", id, ok)
	}
	if !s.IsAnonymous("10.0.0.1") || s.IsAnonymous("1000") {
		t.Error("Unexpected anonymity classification")
	}

	s.Close()
	if _, err := s.Groups(ctx, "1000"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Ping, got %v", err)
	}
}

func TestNewStatic_Invalid(t *testing.T) {
	if _, err := NewStatic([]Account{{ID: "alice"}}); err == nil {
		t.Error("Expected error for non-numeric id")
	}
	if _, err := NewStatic([]Account{{ID: "1"}, {ID: "1"}}); err == nil {
		t.Error("Expected error for duplicate id")
	}
}

// ============================================================================
// SQLite
// ============================================================================

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "accounts.db"),
	}, logging.Discard())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Lookups(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	if err := s.Upsert(ctx, Account{ID: "1000", Username: "alice", Groups: []policy.GroupID{"Developers", "Admins"}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.Groups(ctx, "1000")
	if err != nil {
		t.Fatalf("Groups() error = %v", err)
	}
	want := append(append([]policy.GroupID{}, implicit...), "Developers", "Admins")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if name, ok := s.UserName(ctx, "1000"); !ok || name != "alice" {
		t.Errorf("Expected alice, got %q", name)
	}
	if id, ok := s.AccountKey(ctx, "alice"); !ok || id != "1000" {
		t.Errorf("Expected 1000, got %q", id)
	}
	if _, ok := s.AccountKey(ctx, "bob"); ok {
		t.Error("Expected bob to be unknown")
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestSQLite_UpsertReplacesGroups(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	_ = s.Upsert(ctx, Account{ID: "1000", Groups: []policy.GroupID{"Developers"}})
	if err := s.Upsert(ctx, Account{ID: "1000", Groups: []policy.GroupID{"Ops"}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, _ := s.Groups(ctx, "1000")
	want := append(append([]policy.GroupID{}, implicit...), "Ops")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if _, ok := s.UserName(ctx, "1000"); ok {
		t.Error("Expected no username")
	}

	if err := s.Remove(ctx, "1000"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	got, _ = s.Groups(ctx, "1000")
	if !reflect.DeepEqual(got, implicit) {
		t.Errorf("Expected implicit groups after removal, got %v", got)
	}
}

func TestSQLite_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.db")

	s, err := OpenSQLite(ctx, SQLiteConfig{Path: path}, logging.Discard())
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	_ = s.Upsert(ctx, Account{ID: "7", Username: "carol"})
	s.Close()

	s, err = OpenSQLite(ctx, SQLiteConfig{Path: path}, logging.Discard())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if name, ok := s.UserName(ctx, "7"); !ok || name != "carol" {
		t.Errorf("Expected carol after reopen, got %q", name)
	}
}

func TestSQLite_Invalid(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), SQLiteConfig{}, nil); err == nil {
		t.Error("Expected error for empty path")
	}
	s := openTestDB(t)
	if err := s.Upsert(context.Background(), Account{ID: "10.0.0.1"}); err == nil {
		t.Error("Expected error for non-numeric id")
	}
}

// ============================================================================
// Open
// ============================================================================

func TestOpen(t *testing.T) {
	ctx := context.Background()

	d, err := Open(ctx, config.GroupsConfig{
		Backend:  "static",
		Accounts: []config.AccountConfig{{ID: "1", Username: "a", Groups: []string{"Developers"}}},
	}, nil)
	if err != nil {
		t.Fatalf("Open(static) error = %v", err)
	}
	if id, ok := d.AccountKey(ctx, "a"); !ok || id != "1" {
		t.Errorf("Expected account 1, got %q", id)
	}

	d, err = Open(ctx, config.GroupsConfig{
		Backend: "sqlite",
		SQLite:  config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "a.db")},
	}, logging.Discard())
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	d.Close()

	if _, err := Open(ctx, config.GroupsConfig{Backend: "ldap"}, nil); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
