package manager

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/packlimit/pkg/config"
	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/limits/policy"
	"mercator-hq/packlimit/pkg/telemetry/logging"
)

const (
	primaryDoc  = "groups:\n  - name: Registered Users\n    uploadpackperhour: 100\n"
	primaryDoc2 = "groups:\n  - name: Registered Users\n    uploadpackperhour: 50\n"
	fallbackDoc = "groups:\n  - name: Anonymous Users\n    uploadpackperhour: 10\n"
	emptyDoc    = "messages:\n  upload_pack_limit_exceeded: slow down\n"
)

type fakeEngine struct {
	mu    sync.Mutex
	calls []*policy.Snapshot
}

func (e *fakeEngine) OnPolicyChanged(_ context.Context, old, next *policy.Snapshot) limits.ReconcileReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, next)
	return limits.ReconcileReport{Rebuilt: 1}
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type recorder struct {
	mu      sync.Mutex
	results []string
}

func (r *recorder) RecordReload(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.results, ",")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func newManager(t *testing.T, cfg config.PolicyConfig) (*Manager, *policy.Store, *fakeEngine, *recorder) {
	t.Helper()
	store := policy.NewStore(nil)
	engine := &fakeEngine{}
	rec := &recorder{}
	m, err := New(context.Background(), cfg, store, engine,
		WithLogger(logging.Discard()),
		WithRecorder(rec),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, store, engine, rec
}

// ============================================================================
// FileReader and Loader
// ============================================================================

func TestFileReader(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	path := filepath.Join(dir, "ratelimit.yaml")
	writeFile(t, path, primaryDoc)
	data, version, err := FileReader{Path: path}.ReadPolicy(ctx)
	if err != nil || string(data) != primaryDoc || version != "" {
		t.Errorf("ReadPolicy() = %q, %q, %v", data, version, err)
	}

	tests := []struct {
		name    string
		reader  FileReader
		message string
	}{
		{"missing", FileReader{Path: filepath.Join(dir, "missing.yaml")}, "file not found"},
		{"directory", FileReader{Path: dir}, "not a regular file"},
		{"too large", FileReader{Path: path, MaxFileSize: 10}, "exceeds maximum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.reader.ReadPolicy(ctx)
			var le *LoadError
			if !errors.As(err, &le) {
				t.Fatalf("Expected LoadError, got %v", err)
			}
			if !strings.Contains(le.Error(), tt.message) {
				t.Errorf("Expected %q in %q", tt.message, le.Error())
			}
		})
	}

	bad := filepath.Join(dir, "binary.yaml")
	writeFile(t, bad, "\xff\xfe")
	if _, _, err := (FileReader{Path: bad}).ReadPolicy(ctx); err == nil || !strings.Contains(err.Error(), "UTF-8") {
		t.Errorf("Expected UTF-8 error, got %v", err)
	}
}

func TestLoader_Fallback(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "project.yaml")
	fallback := filepath.Join(dir, "global.yaml")
	ctx := context.Background()

	tests := []struct {
		name      string
		primary   string
		fallback  string
		wantGroup policy.GroupID
		wantErr   bool
	}{
		{"primary wins", primaryDoc, fallbackDoc, policy.RegisteredUsers, false},
		{"empty primary uses fallback", emptyDoc, fallbackDoc, policy.AnonymousUsers, false},
		{"missing primary uses fallback", "", fallbackDoc, policy.AnonymousUsers, false},
		{"missing fallback ignored", primaryDoc, "", policy.RegisteredUsers, false},
		{"both missing", "", "", "", true},
		{"broken fallback", primaryDoc, "groups: [", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(primary)
			os.Remove(fallback)
			if tt.primary != "" {
				writeFile(t, primary, tt.primary)
			}
			if tt.fallback != "" {
				writeFile(t, fallback, tt.fallback)
			}

			l := NewLoader(FileReader{Path: primary}, FileReader{Path: fallback}, logging.Discard())
			snap, err := l.Load(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			groups := snap.Table.AllGroups()
			if len(groups) != 1 || groups[0] != tt.wantGroup {
				t.Errorf("Expected group %q, got %v", tt.wantGroup, groups)
			}
		})
	}
}

func TestLoader_MissingPrimaryWithoutFallback(t *testing.T) {
	l := NewLoader(FileReader{Path: filepath.Join(t.TempDir(), "missing.yaml")}, nil, nil)
	_, err := l.Load(context.Background())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected fs.ErrNotExist, got %v", err)
	}
}

type versionedReader struct{ data string }

func (r versionedReader) Name() string { return "repo@main:ratelimit.yaml" }

func (r versionedReader) ReadPolicy(context.Context) ([]byte, string, error) {
	return []byte(r.data), "abc123def456", nil
}

func TestLoader_ReaderVersion(t *testing.T) {
	snap, err := NewLoader(versionedReader{primaryDoc}, nil, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Version != "abc123def456" {
		t.Errorf("Expected commit version, got %q", snap.Version)
	}
}

// ============================================================================
// Manager
// ============================================================================

func TestManager_ReloadLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.yaml")
	writeFile(t, path, primaryDoc)
	m, store, engine, rec := newManager(t, config.PolicyConfig{Mode: "file", FilePath: path})
	ctx := context.Background()

	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if store.Current().LoadedAt.IsZero() || engine.count() != 1 {
		t.Fatalf("Expected snapshot installed and reconciled")
	}
	if m.LastLoadTime().IsZero() {
		t.Error("Expected load time to be recorded")
	}

	res, err := m.Reload(ctx)
	if err != nil || res.Outcome != ResultUnchanged {
		t.Errorf("Expected unchanged reload, got %+v, %v", res, err)
	}
	if engine.count() != 1 {
		t.Error("Expected identical document to skip reconciliation")
	}

	installed := store.Current()
	writeFile(t, path, "groups:\n  - name: X\n    uploadpackperhour: -1\n")
	res, err = m.Reload(ctx)
	var pe *policy.ParseError
	if !errors.As(err, &pe) || res.Outcome != ResultFailed {
		t.Fatalf("Expected ParseError, got %+v, %v", res, err)
	}
	if store.Current() != installed {
		t.Error("Expected failed reload to keep the installed snapshot")
	}
	if m.LastError() == nil {
		t.Error("Expected LastError to be set")
	}

	writeFile(t, path, primaryDoc2)
	res, err = m.Reload(ctx)
	if err != nil || res.Outcome != ResultApplied || res.Report.Rebuilt != 1 {
		t.Fatalf("Expected applied reload, got %+v, %v", res, err)
	}
	if m.LastError() != nil {
		t.Errorf("Expected LastError to clear, got %v", m.LastError())
	}
	if engine.count() != 2 {
		t.Errorf("Expected 2 reconciliations, got %d", engine.count())
	}

	if got := rec.joined(); got != "applied,unchanged,failed,applied" {
		t.Errorf("Unexpected reload results %q", got)
	}
}

func TestManager_ValidateDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.yaml")
	writeFile(t, path, primaryDoc)
	m, store, engine, _ := newManager(t, config.PolicyConfig{FilePath: path})

	snap, err := m.ValidateDryRun(context.Background())
	if err != nil || snap == nil {
		t.Fatalf("ValidateDryRun() = %v, %v", snap, err)
	}
	if !store.Current().LoadedAt.IsZero() || engine.count() != 0 {
		t.Error("Expected dry run not to install anything")
	}

	writeFile(t, path, "groups: [")
	if _, err := m.ValidateDryRun(context.Background()); err == nil {
		t.Error("Expected dry run to report parse errors")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), config.PolicyConfig{}, nil, nil); err == nil {
		t.Error("Expected error without store")
	}
	if _, err := New(context.Background(), config.PolicyConfig{Mode: "ldap"}, policy.NewStore(nil), nil); err == nil {
		t.Error("Expected error for unknown mode")
	}
	cfg := config.PolicyConfig{Mode: "git", Git: config.GitPolicyConfig{Repository: "/nonexistent", Branch: "main", Path: "ratelimit.yaml", LocalPath: t.TempDir()}}
	if _, err := New(context.Background(), cfg, policy.NewStore(nil), nil); err == nil {
		t.Error("Expected error when the clone fails")
	}
}

func TestManager_WatchDisabled(t *testing.T) {
	m, _, _, _ := newManager(t, config.PolicyConfig{FilePath: "ratelimit.yaml"})
	if err := m.Watch(context.Background()); !errors.Is(err, ErrWatchDisabled) {
		t.Errorf("Expected ErrWatchDisabled, got %v", err)
	}
}

func TestManager_WatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.yaml")
	writeFile(t, path, primaryDoc)
	m, store, engine, _ := newManager(t, config.PolicyConfig{
		FilePath: path,
		Watch:    true,
		Debounce: 20 * time.Millisecond,
	})
	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Watch(context.Background()) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, primaryDoc2)

	deadline := time.Now().Add(3 * time.Second)
	for engine.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if engine.count() != 2 {
		t.Fatalf("Expected watcher to trigger a reload, got %d reconciliations", engine.count())
	}
	if store.Current().Source != primaryDoc2 {
		t.Error("Expected new document to be installed")
	}

	m.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Watch to return after Close")
	}
}

// ============================================================================
// Debouncer
// ============================================================================

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var mu sync.Mutex
	var fired []int

	for i := 1; i <= 3; i++ {
		i := i
		d.Trigger(func() {
			mu.Lock()
			fired = append(fired, i)
			mu.Unlock()
		})
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if len(fired) != 1 || fired[0] != 3 {
		t.Errorf("Expected only the last callback, got %v", fired)
	}
	mu.Unlock()

	d.Stop()
	d.Trigger(func() { t.Error("Expected no callback after Stop") })
	time.Sleep(50 * time.Millisecond)
}
