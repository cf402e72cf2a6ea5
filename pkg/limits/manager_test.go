package limits_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	fakes "mercator-hq/packlimit/internal/testutil"
	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/limits/policy"
	"mercator-hq/packlimit/pkg/limits/ratelimit"
)

type harness struct {
	t     *testing.T
	sched *fakes.ManualScheduler
	dir   *fakes.Directory
	rec   *fakes.RecordingNotifier
	store *policy.Store
	reg   *prometheus.Registry
	mgr   *limits.Manager
}

func newHarness(t *testing.T, doc string) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		sched: fakes.NewManualScheduler(),
		dir:   fakes.NewDirectory(),
		rec:   &fakes.RecordingNotifier{},
		store: policy.NewStore(nil),
		reg:   prometheus.NewRegistry(),
	}
	h.install(doc)

	mgr, err := limits.NewManager(limits.Config{DefaultWindowMinutes: 60}, h.store, h.dir, h.sched,
		limits.WithNotifier(h.rec),
		limits.WithRegisterer(h.reg),
		limits.WithClock(h.sched.Now),
	)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	h.mgr = mgr
	t.Cleanup(mgr.Close)
	return h
}

// install parses doc and swaps it into the store, returning both snapshots.
func (h *harness) install(doc string) (old, next *policy.Snapshot) {
	h.t.Helper()
	next, err := policy.Parse("test", []byte(doc))
	if err != nil {
		h.t.Fatalf("Parse failed: %v", err)
	}
	return h.store.Swap(next), next
}

func (h *harness) reload(doc string) limits.ReconcileReport {
	old, next := h.install(doc)
	return h.mgr.OnPolicyChanged(context.Background(), old, next)
}

func anonymousDoc(limit int, extra string) string {
	return fmt.Sprintf("groups:\n  - name: Anonymous Users\n    uploadpackperhour: %d\n%s", limit, extra)
}

// ============================================================================
// End-to-end Scenarios
// ============================================================================

func TestScenarioA_ExhaustAndReplenish(t *testing.T) {
	h := newHarness(t, anonymousDoc(1, ""))
	ctx := context.Background()

	if !h.mgr.Acquire(ctx, "10.1.1.1") {
		t.Fatal("Expected first acquire to succeed")
	}
	if h.mgr.Acquire(ctx, "10.1.1.1") {
		t.Fatal("Expected second acquire to fail")
	}

	h.sched.Advance(60 * time.Minute)

	if !h.mgr.Acquire(ctx, "10.1.1.1") {
		t.Error("Expected acquire after replenish to succeed")
	}
}

func TestScenarioB_WarnThenBlocked(t *testing.T) {
	h := newHarness(t, anonymousDoc(10, "    uploadpackperhourwarn: 9\n"))
	ctx := context.Background()
	key := "10.2.2.2"

	for i := 1; i <= 8; i++ {
		h.mgr.Acquire(ctx, key)
	}
	if n := len(h.rec.Events()); n != 0 {
		t.Fatalf("Expected no events for acquisitions 1..8, got %d", n)
	}

	h.mgr.Acquire(ctx, key)
	if h.rec.Count(ratelimit.EventWarn) != 1 {
		t.Fatalf("Expected one warn at acquisition 9")
	}

	if !h.mgr.Acquire(ctx, key) {
		t.Error("Expected acquisition 10 to succeed")
	}
	if n := len(h.rec.Events()); n != 1 {
		t.Errorf("Expected no event at acquisition 10, got %d total", n)
	}

	d := h.mgr.Check(ctx, key)
	if d.Allowed {
		t.Error("Expected acquisition 11 to fail")
	}
	if h.rec.Count(ratelimit.EventBlocked) != 1 {
		t.Errorf("Expected exactly one blocked event, got %d", h.rec.Count(ratelimit.EventBlocked))
	}
	if d.Message != "Exceeded rate limit of 10 fetch requests/hour" {
		t.Errorf("Unexpected exceeded message: %q", d.Message)
	}

	if got := testutil.ToFloat64(h.mgr.Metrics().EventsCounter("warn")); got != 1 {
		t.Errorf("Expected warn event metric 1, got %v", got)
	}
}

func TestScenarioC_NoPolicyIsUnbounded(t *testing.T) {
	h := newHarness(t, "groups:\n  - name: Administrators\n    uploadpackperhour: 5\n")
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if !h.mgr.Acquire(ctx, "anon.example.com") {
			t.Fatal("Expected unbounded caller to always acquire")
		}
	}

	l, ok := h.mgr.Limiter("anon.example.com")
	if !ok {
		t.Fatal("Expected limiter to be cached")
	}
	if l.AvailablePermits() != ratelimit.Unlimited {
		t.Errorf("Expected Unlimited available permits, got %d", l.AvailablePermits())
	}
	if h.sched.Active() != 1 {
		t.Errorf("Expected only the cache sweeper to be scheduled, got %d", h.sched.Active())
	}
}

func TestScenarioD_CapacityIncreaseResets(t *testing.T) {
	h := newHarness(t, anonymousDoc(5, ""))
	ctx := context.Background()
	key := "10.4.4.4"

	for i := 0; i < 5; i++ {
		h.mgr.Acquire(ctx, key)
	}

	report := h.reload(anonymousDoc(50, ""))
	if report.Rebuilt != 1 {
		t.Fatalf("Expected one rebuild, got %+v", report)
	}

	l, _ := h.mgr.Limiter(key)
	if l.UsedPermits() != 0 || l.AvailablePermits() != 50 {
		t.Errorf("Expected fresh bucket of 50, got used=%d available=%d", l.UsedPermits(), l.AvailablePermits())
	}
	if h.sched.Active() != 2 {
		t.Errorf("Expected the old bucket task cancelled, got %d tasks", h.sched.Active())
	}
}

// ============================================================================
// Reconciliation Tests
// ============================================================================

func TestReconcile_RoundTrip(t *testing.T) {
	h := newHarness(t, anonymousDoc(1000, ""))
	ctx := context.Background()
	key := "10.5.5.5"

	for i := 0; i < 1000; i++ {
		h.mgr.Acquire(ctx, key)
	}
	before, _ := h.mgr.Limiter(key)

	// Textually different, same values.
	report := h.reload(anonymousDoc(1000, "# reviewed\n"))
	if report.Total() != 0 {
		t.Errorf("Expected equal tables to skip reconciliation, got %+v", report)
	}

	report = h.mgr.Reconcile(ctx, h.store.Current().Table)
	if report.Kept != 1 {
		t.Errorf("Expected explicit pass to keep the limiter, got %+v", report)
	}
	after, _ := h.mgr.Limiter(key)
	if after != before || after.AvailablePermits() != 0 {
		t.Error("Expected unchanged policy to preserve the exhausted limiter")
	}

	h.reload(anonymousDoc(10, ""))
	l, _ := h.mgr.Limiter(key)
	if l.AvailablePermits() != 10 {
		t.Errorf("Expected reduced capacity fully available, got %d", l.AvailablePermits())
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newHarness(t, anonymousDoc(5, "    uploadpackperhourwarn: 3\n"))
	ctx := context.Background()
	for _, k := range []string{"a.example", "b.example", "c.example"} {
		h.mgr.Acquire(ctx, k)
	}

	table := h.store.Current().Table
	first := h.mgr.Reconcile(ctx, table)
	second := h.mgr.Reconcile(ctx, table)
	if first.Kept != 3 || second.Kept != 3 || second.Rebuilt != 0 || second.Rewarned != 0 {
		t.Errorf("Expected repeated passes to keep everything, got %+v then %+v", first, second)
	}
}

func TestReconcile_WarnChangeKeepsBucket(t *testing.T) {
	h := newHarness(t, anonymousDoc(10, "    uploadpackperhourwarn: 8\n"))
	ctx := context.Background()
	key := "10.6.6.6"

	for i := 0; i < 4; i++ {
		h.mgr.Acquire(ctx, key)
	}
	tasks := h.sched.Active()

	report := h.reload(anonymousDoc(10, "    uploadpackperhourwarn: 5\n"))
	if report.Rewarned != 1 {
		t.Fatalf("Expected warn-only change to rewarn, got %+v", report)
	}

	l, _ := h.mgr.Limiter(key)
	if l.UsedPermits() != 4 {
		t.Errorf("Expected used count preserved, got %d", l.UsedPermits())
	}
	if w, _ := l.WarnLimit(); w != 5 {
		t.Errorf("Expected warn limit 5, got %d", w)
	}
	if h.sched.Active() != tasks {
		t.Error("Expected the bucket task to survive a rewarn")
	}

	h.mgr.Acquire(ctx, key)
	if h.rec.Count(ratelimit.EventWarn) != 1 {
		t.Error("Expected the new threshold to fire")
	}
}

func TestReconcile_ShapeAndWindowChanges(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want limits.Action
	}{
		{"bounded to warning", anonymousDoc(5, ""), anonymousDoc(5, "    uploadpackperhourwarn: 2\n"), limits.ActionRebuild},
		{"warning to bounded", anonymousDoc(5, "    uploadpackperhourwarn: 2\n"), anonymousDoc(5, ""), limits.ActionRebuild},
		{"window change", anonymousDoc(5, ""), anonymousDoc(5, "    timelapseinminutes: 30\n"), limits.ActionRebuild},
		{"limit removed", anonymousDoc(5, ""), "groups:\n  - name: Other\n    uploadpackperhour: 1\n", limits.ActionRebuild},
		{"unbounded warn change", "groups:\n  - name: Anonymous Users\n    uploadpackperhourwarn: 3\n",
			"groups:\n  - name: Anonymous Users\n    uploadpackperhourwarn: 4\n", limits.ActionRewarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.from)
			h.mgr.Acquire(context.Background(), "host")
			r := h.reload(tt.to)

			switch tt.want {
			case limits.ActionRebuild:
				if r.Rebuilt != 1 {
					t.Errorf("Expected rebuild, got %+v", r)
				}
			case limits.ActionRewarn:
				if r.Rewarned != 1 {
					t.Errorf("Expected rewarn, got %+v", r)
				}
			}
		})
	}
}

func TestReconcile_FailureIsolated(t *testing.T) {
	h := newHarness(t, "groups:\n  - name: Registered Users\n    uploadpackperhour: 5\n")
	ctx := context.Background()
	h.mgr.Acquire(ctx, "100")
	h.mgr.Acquire(ctx, "200")
	stale, _ := h.mgr.Limiter("100")

	h.dir.Fail("100", errors.New("directory timeout"))
	report := h.reload("groups:\n  - name: Registered Users\n    uploadpackperhour: 7\n")

	if report.Failed != 1 || report.Rebuilt != 1 {
		t.Errorf("Expected one failure and one rebuild, got %+v", report)
	}
	if l, _ := h.mgr.Limiter("100"); l != stale {
		t.Error("Expected failed key to keep its existing limiter")
	}
	if l, _ := h.mgr.Limiter("200"); l.MaxPermits() != 7 {
		t.Errorf("Expected healthy key to be rebuilt, got %d", l.MaxPermits())
	}
}

// blockingDirectory holds group lookups for one key until released.
type blockingDirectory struct {
	*fakes.Directory
	key     string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDirectory) Groups(ctx context.Context, key string) ([]policy.GroupID, error) {
	if key == d.key {
		d.once.Do(func() { close(d.entered) })
		<-d.release
	}
	return d.Directory.Groups(ctx, key)
}

func TestReconcile_MissOverlappingReload(t *testing.T) {
	ctx := context.Background()
	first, err := policy.Parse("test", []byte(anonymousDoc(5, "")))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	second, err := policy.Parse("test", []byte(anonymousDoc(50, "")))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	store := policy.NewStore(first)
	dir := &blockingDirectory{
		Directory: fakes.NewDirectory(),
		key:       "1000",
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	mgr, err := limits.NewManager(limits.Config{DefaultWindowMinutes: 60}, store, dir, fakes.NewManualScheduler())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Close()

	done := make(chan limits.Decision, 1)
	go func() { done <- mgr.Check(ctx, "1000") }()
	<-dir.entered

	// The miss has read the first table and is still resolving.
	old := store.Swap(second)
	if report := mgr.OnPolicyChanged(ctx, old, second); report.Total() != 0 {
		t.Errorf("Expected nothing cached during the reload, got %+v", report)
	}
	close(dir.release)

	d := <-done
	if !d.Allowed {
		t.Fatal("Expected the overlapping acquire to be granted")
	}
	if d.MaxPermits != 50 {
		t.Errorf("Expected the acquire to use the reloaded capacity 50, got %d", d.MaxPermits)
	}
	l, ok := mgr.Limiter("1000")
	if !ok {
		t.Fatal("Expected a cached limiter")
	}
	if l.MaxPermits() != 50 {
		t.Errorf("Expected cached capacity 50 after reload, got %d", l.MaxPermits())
	}
	if l.UsedPermits() != 1 {
		t.Errorf("Expected the acquire to be counted on the rebuilt limiter, got %d", l.UsedPermits())
	}

	same, _ := policy.Parse("test", []byte(anonymousDoc(50, "")))
	mgr.OnPolicyChanged(ctx, store.Swap(same), same)
	mgr.Acquire(ctx, "1000")
	if l, _ := mgr.Limiter("1000"); l.MaxPermits() != 50 || l.UsedPermits() != 2 {
		t.Errorf("Expected capacity 50 with 2 used, got %d with %d used", l.MaxPermits(), l.UsedPermits())
	}
}

func TestReconcile_UnchangedTableSkipsResolve(t *testing.T) {
	h := newHarness(t, anonymousDoc(5, ""))
	ctx := context.Background()
	h.mgr.Acquire(ctx, "1000")
	before, _ := h.mgr.Limiter("1000")

	h.reload(anonymousDoc(5, ""))
	calls := h.dir.Calls()
	h.mgr.Acquire(ctx, "1000")
	h.mgr.Acquire(ctx, "1000")

	if h.dir.Calls() != calls {
		t.Errorf("Expected no group lookups after an unchanged reload, got %d", h.dir.Calls()-calls)
	}
	after, _ := h.mgr.Limiter("1000")
	if after != before || after.UsedPermits() != 3 {
		t.Errorf("Expected the same limiter with 3 used, got used=%d", after.UsedPermits())
	}
}

func TestPlan(t *testing.T) {
	sched := fakes.NewManualScheduler()
	f := &ratelimit.Factory{Scheduler: sched}
	bounded, _ := f.Build("k", ratelimit.Params{Limit: 5, HasLimit: true, WindowMinutes: 60})

	tests := []struct {
		name string
		cur  ratelimit.Limiter
		eff  policy.Effective
		want limits.Action
	}{
		{"same", bounded, policy.Effective{Limit: 5, HasLimit: true, WindowMinutes: 60}, limits.ActionKeep},
		{"capacity", bounded, policy.Effective{Limit: 6, HasLimit: true, WindowMinutes: 60}, limits.ActionRebuild},
		{"window", bounded, policy.Effective{Limit: 5, HasLimit: true, WindowMinutes: 30}, limits.ActionRebuild},
		{"unbounded same", ratelimit.Unbounded{}, policy.Effective{WindowMinutes: 60}, limits.ActionKeep},
		{"unbounded window ignored", ratelimit.Unbounded{}, policy.Effective{WindowMinutes: 5}, limits.ActionKeep},
		{"unbounded to bounded", ratelimit.Unbounded{}, policy.Effective{Limit: 1, HasLimit: true, WindowMinutes: 60}, limits.ActionRebuild},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := limits.Plan(tt.cur, tt.eff); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

// ============================================================================
// Failure and Administrative Tests
// ============================================================================

func TestAcquire_FailOpen(t *testing.T) {
	h := newHarness(t, "groups:\n  - name: Registered Users\n    uploadpackperhour: 1\n")
	h.dir.Fail("300", errors.New("directory unavailable"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := h.mgr.Check(ctx, "300")
		if !d.Allowed || !d.FailOpen {
			t.Fatalf("Expected fail-open decision, got %+v", d)
		}
	}
	if h.mgr.Len() != 0 {
		t.Error("Expected failed construction not to be cached")
	}
	if got := testutil.ToFloat64(h.mgr.Metrics().AcquireCounter("fail_open")); got != 3 {
		t.Errorf("Expected 3 fail_open acquisitions, got %v", got)
	}

	h.dir.Set("300")
	h.mgr.Acquire(ctx, "300")
	if h.mgr.Acquire(ctx, "300") {
		t.Error("Expected throttling to resume after resolution recovers")
	}
}

func TestListAll(t *testing.T) {
	h := newHarness(t, anonymousDoc(10, ""))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.mgr.Acquire(ctx, "10.0.0.1")
	}
	h.mgr.Acquire(ctx, "10.0.0.2")

	list := h.mgr.ListAll(ctx)
	if len(list) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(list))
	}
	if list[0].Key != "10.0.0.2" || list[0].Available != 9 {
		t.Errorf("Expected most available first, got %+v", list[0])
	}
	if list[1].Used != 3 || list[1].MaxPermits != 10 {
		t.Errorf("Unexpected second entry: %+v", list[1])
	}
	if list[1].RemainingTime != 60*time.Minute {
		t.Errorf("Expected 60m remaining, got %v", list[1].RemainingTime)
	}
}

func TestReplenishRequest(t *testing.T) {
	h := newHarness(t, anonymousDoc(1, "  - name: Registered Users\n    uploadpackperhour: 1\n"))
	ctx := context.Background()
	for _, k := range []string{"10.0.0.1", "10.0.0.2", "400"} {
		h.mgr.Acquire(ctx, k)
	}

	if _, err := h.mgr.ReplenishRequest(ctx, limits.ReplenishRequest{All: true, RemoteHosts: []string{"10.0.0.1"}}); !errors.Is(err, limits.ErrReplenishConflict) {
		t.Errorf("Expected ErrReplenishConflict, got %v", err)
	}
	if _, err := h.mgr.ReplenishRequest(ctx, limits.ReplenishRequest{}); !errors.Is(err, limits.ErrReplenishEmpty) {
		t.Errorf("Expected ErrReplenishEmpty, got %v", err)
	}
	if _, err := h.mgr.ReplenishRequest(ctx, limits.ReplenishRequest{Users: []string{"jdoe"}}); !errors.Is(err, limits.ErrUnknownUser) {
		t.Errorf("Expected ErrUnknownUser without a name resolver, got %v", err)
	}

	n, err := h.mgr.ReplenishRequest(ctx, limits.ReplenishRequest{Users: []string{"400"}, RemoteHosts: []string{"10.0.0.1", "10.9.9.9"}})
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 replenished, got %d, %v", n, err)
	}
	if !h.mgr.Acquire(ctx, "10.0.0.1") || !h.mgr.Acquire(ctx, "400") {
		t.Error("Expected replenished callers to acquire again")
	}
	if h.mgr.Acquire(ctx, "10.0.0.2") {
		t.Error("Expected untouched caller to stay exhausted")
	}

	n, _ = h.mgr.ReplenishRequest(ctx, limits.ReplenishRequest{All: true})
	if n != 3 {
		t.Errorf("Expected all 3 replenished, got %d", n)
	}
	if !h.mgr.Acquire(ctx, "10.0.0.2") {
		t.Error("Expected replenish all to reset every caller")
	}
}

func TestIdleEviction(t *testing.T) {
	h := newHarness(t, anonymousDoc(5, ""))
	h.mgr.Acquire(context.Background(), "10.7.7.7")

	h.sched.Advance(2 * time.Hour)

	if h.mgr.Len() != 0 {
		t.Error("Expected idle limiter to be evicted")
	}
	if h.sched.Active() != 1 {
		t.Errorf("Expected only the sweeper left, got %d tasks", h.sched.Active())
	}
	if got := testutil.ToFloat64(h.mgr.Metrics().EvictionCounter("expired")); got != 1 {
		t.Errorf("Expected one expired eviction, got %v", got)
	}
}
