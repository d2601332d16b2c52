package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/quotakeeper/internal/calendar"
	"github.com/goodtune/quotakeeper/internal/clock"
	"github.com/goodtune/quotakeeper/internal/ledger"
	"github.com/goodtune/quotakeeper/internal/policy"
	"github.com/goodtune/quotakeeper/internal/policy/opa"
	"github.com/goodtune/quotakeeper/internal/reclaim"
	"github.com/goodtune/quotakeeper/internal/resource"
	"github.com/goodtune/quotakeeper/internal/storage"
	"github.com/goodtune/quotakeeper/internal/storage/redis"
	"github.com/goodtune/quotakeeper/internal/usage"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var kst = time.FixedZone("KST", 9*60*60)

// Tuesday 2025-03-04 is a working day, Saturday 2025-03-08 is not.
func tuesdayAt(hour, min int) time.Time {
	return time.Date(2025, 3, 4, hour, min, 0, 0, kst)
}

func saturdayAt(hour, min int) time.Time {
	return time.Date(2025, 3, 8, hour, min, 0, 0, kst)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string]int
}

func (n *recordingNotifier) Notify(_ context.Context, ownerID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string]int)
	}
	n.sent[ownerID]++
	return nil
}

func (n *recordingNotifier) count(ownerID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[ownerID]
}

// failingEvents fails queries for one entity
type failingEvents struct {
	storage.EventStore
	entity string
}

func (f failingEvents) Query(ctx context.Context, entityID string, from, to time.Time) ([]usage.Event, error) {
	if entityID == f.entity {
		return nil, errors.New("event store unavailable")
	}
	return f.EventStore.Query(ctx, entityID, from, to)
}

type fixture struct {
	engine     *Engine
	store      *redis.Store
	controller *redis.Controller
	notifier   *recordingNotifier
	clock      *clock.Fixed
	deps       Deps
	opts       Options
}

func setupFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := redis.New(client, "test")
	t.Cleanup(func() { _ = store.Close() })

	policyCfg := calendar.Policy{
		WorkingDayBudget:    6 * time.Hour,
		NonWorkingDayBudget: 12 * time.Hour,
		Exclusion: calendar.Window{
			Start: calendar.TimeOfDay{Hour: 8, Minute: 30},
			End:   calendar.TimeOfDay{Hour: 18},
		},
	}
	log := zerolog.Nop()
	cal := calendar.New(kst, policyCfg, calendar.DefaultTable(), log)
	clk := clock.NewFixed(start)

	opaEngine, err := opa.NewEngine("", log)
	if err != nil {
		t.Fatalf("Failed to create OPA engine: %v", err)
	}

	ctrl := redis.NewController(store, log)
	notifier := &recordingNotifier{}
	led := ledger.New(store.Ledger(), cal, log)

	deps := Deps{
		Calendar:   cal,
		Accountant: usage.NewAccountant(cal, log),
		Ledger:     led,
		Gate:       policy.NewGate(led, store.Ownership(), ctrl, opaEngine, clk, log),
		Reclaimer: reclaim.New(led, store.Ownership(), ctrl, store.Events(), notifier, clk,
			reclaim.Options{Concurrency: 2, RetryInterval: time.Millisecond}, log),
		Events:     store.Events(),
		Ownership:  store.Ownership(),
		Controller: ctrl,
		Deferred:   store.Deferred(),
		Clock:      clk,
	}
	opts := Options{Lookback: 6 * time.Hour, Concurrency: 4, WindowEndStop: true}

	return &fixture{
		engine:     New(deps, opts, log),
		store:      store,
		controller: ctrl,
		notifier:   notifier,
		clock:      clk,
		deps:       deps,
		opts:       opts,
	}
}

func (f *fixture) assign(t *testing.T, entityID, ownerID string, state resource.State) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.Ownership().Assign(ctx, entityID, ownerID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if err := f.controller.ReportState(ctx, entityID, state); err != nil {
		t.Fatalf("ReportState failed: %v", err)
	}
}

func (f *fixture) record(t *testing.T, entityID string, kind usage.Kind, at time.Time) {
	t.Helper()
	ev := usage.Event{EntityID: entityID, Kind: kind, Timestamp: at}
	if err := f.engine.RecordEvent(context.Background(), ev); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}
}

func (f *fixture) remaining(t *testing.T, ownerID string) time.Duration {
	t.Helper()
	r, err := f.engine.Ledger.Remaining(context.Background(), ownerID, f.clock.Now())
	if err != nil {
		t.Fatalf("Remaining failed: %v", err)
	}
	return r
}

func (f *fixture) stopCommands(t *testing.T) int {
	t.Helper()
	msgs, err := f.store.Client().XRange(context.Background(), "test:commands", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	n := 0
	for _, msg := range msgs {
		if msg.Values["action"] == "stop" {
			n++
		}
	}
	return n
}

func TestAccountAndReclaim_WorkingDayScenarios(t *testing.T) {
	f := setupFixture(t, tuesdayAt(10, 0))
	ctx := context.Background()
	f.assign(t, "i-1", "alice", resource.StateStopped)

	// Usage inside the exclusion window is free
	f.record(t, "i-1", usage.KindStart, tuesdayAt(9, 0))
	f.record(t, "i-1", usage.KindStop, tuesdayAt(9, 30))

	stats, err := f.engine.AccountAndReclaim(ctx)
	if err != nil {
		t.Fatalf("AccountAndReclaim failed: %v", err)
	}
	if stats.OwnersReconciled != 1 {
		t.Errorf("Expected 1 owner reconciled, got %d", stats.OwnersReconciled)
	}
	if got := f.remaining(t, "alice"); got != 6*time.Hour {
		t.Errorf("Expected 6h remaining after exempt usage, got %s", got)
	}

	// Evening usage is charged
	f.record(t, "i-1", usage.KindStart, tuesdayAt(19, 0))
	f.record(t, "i-1", usage.KindStop, tuesdayAt(21, 0))
	f.clock.Set(tuesdayAt(21, 30))

	if _, err := f.engine.AccountAndReclaim(ctx); err != nil {
		t.Fatalf("AccountAndReclaim failed: %v", err)
	}
	if got := f.remaining(t, "alice"); got != 4*time.Hour {
		t.Errorf("Expected 4h remaining, got %s", got)
	}

	// Re-running the sweep charges nothing new
	if _, err := f.engine.AccountAndReclaim(ctx); err != nil {
		t.Fatalf("AccountAndReclaim failed: %v", err)
	}
	if got := f.remaining(t, "alice"); got != 4*time.Hour {
		t.Errorf("Expected 4h remaining after replay, got %s", got)
	}

	if f.notifier.count("alice") != 0 || f.stopCommands(t) != 0 {
		t.Error("Expected no reclamation for an owner with budget left")
	}
}

func TestAccountAndReclaim_ReclaimsExhaustedOwner(t *testing.T) {
	f := setupFixture(t, tuesdayAt(20, 0))
	ctx := context.Background()
	f.assign(t, "i-1", "alice", resource.StateRunning)
	f.assign(t, "i-2", "bob", resource.StateRunning)

	// 00:30 to 08:30 is 8h of chargeable time, more than the 6h budget
	f.record(t, "i-1", usage.KindStart, tuesdayAt(0, 30))
	// bob has used one evening hour so far
	f.record(t, "i-2", usage.KindStart, tuesdayAt(19, 0))

	stats, err := f.engine.AccountAndReclaim(ctx)
	if err != nil {
		t.Fatalf("AccountAndReclaim failed: %v", err)
	}

	if got := f.remaining(t, "alice"); got != 0 {
		t.Errorf("Expected alice exhausted, got %s", got)
	}
	if got := f.remaining(t, "bob"); got != 5*time.Hour {
		t.Errorf("Expected bob at 5h, got %s", got)
	}
	if stats.Reclaim.EntitiesStopped != 1 {
		t.Errorf("Expected 1 entity stopped, got %d", stats.Reclaim.EntitiesStopped)
	}
	if f.stopCommands(t) != 1 {
		t.Errorf("Expected exactly one stop command")
	}
	if f.notifier.count("alice") != 1 {
		t.Errorf("Expected one notification for alice, got %d", f.notifier.count("alice"))
	}

	events, err := f.store.Events().Query(ctx, "i-1", tuesdayAt(0, 0), tuesdayAt(23, 0))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 2 || events[1].Kind != usage.KindStop || !events[1].Timestamp.Equal(tuesdayAt(20, 0)) {
		t.Errorf("Expected a stop event at 20:00, got %+v", events)
	}
}

func TestAccountAndReclaim_SessionFromPreviousEvening(t *testing.T) {
	f := setupFixture(t, saturdayAt(2, 0))
	f.assign(t, "i-1", "alice", resource.StateRunning)

	// Friday 23:00 start, still running at 02:00; only the 2h after midnight count
	f.record(t, "i-1", usage.KindStart, saturdayAt(0, 0).Add(-time.Hour))

	if _, err := f.engine.AccountAndReclaim(context.Background()); err != nil {
		t.Fatalf("AccountAndReclaim failed: %v", err)
	}
	if got := f.remaining(t, "alice"); got != 10*time.Hour {
		t.Errorf("Expected 10h of the 12h weekend budget left, got %s", got)
	}
}

func sundayAt(hour, min int) time.Time {
	return time.Date(2025, 3, 9, hour, min, 0, 0, kst)
}

func TestAccountAndReclaim_SessionOlderThanLookback(t *testing.T) {
	f := setupFixture(t, sundayAt(10, 0))
	ctx := context.Background()
	f.assign(t, "i-1", "alice", resource.StateRunning)

	// Saturday 13:00 is 11h before midnight, well past the 6h lookback
	f.record(t, "i-1", usage.KindStart, saturdayAt(13, 0))

	charge, err := f.engine.ReconcileOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ReconcileOwner failed: %v", err)
	}
	if charge != 10*time.Hour {
		t.Errorf("Expected 10h charged since midnight, got %s", charge)
	}
	if got := f.remaining(t, "alice"); got != 2*time.Hour {
		t.Errorf("Expected 2h of the 12h weekend budget left, got %s", got)
	}
}

func TestAccountAndReclaim_RepeatedSweepIsIdempotent(t *testing.T) {
	f := setupFixture(t, tuesdayAt(21, 0))
	ctx := context.Background()
	f.assign(t, "i-1", "alice", resource.StateRunning)
	f.assign(t, "i-2", "alice", resource.StateStopped)

	f.record(t, "i-1", usage.KindStart, tuesdayAt(20, 0))
	f.record(t, "i-2", usage.KindStart, tuesdayAt(18, 30))
	f.record(t, "i-2", usage.KindStop, tuesdayAt(19, 0))

	for i := 0; i < 2; i++ {
		if _, err := f.engine.AccountAndReclaim(ctx); err != nil {
			t.Fatalf("AccountAndReclaim #%d failed: %v", i+1, err)
		}
		if got := f.remaining(t, "alice"); got != 4*time.Hour+30*time.Minute {
			t.Errorf("Sweep #%d: expected 4h30m remaining, got %s", i+1, got)
		}
	}
	if f.stopCommands(t) != 0 {
		t.Error("Expected no stop commands while budget remains")
	}
}

func TestRecordMidnightStarts(t *testing.T) {
	f := setupFixture(t, sundayAt(0, 5))
	ctx := context.Background()

	// Running since Saturday afternoon
	f.assign(t, "i-1", "alice", resource.StateRunning)
	f.record(t, "i-1", usage.KindStart, saturdayAt(13, 0))

	// Started after midnight
	f.assign(t, "i-2", "alice", resource.StateRunning)
	f.record(t, "i-2", usage.KindStart, sundayAt(0, 2))

	// Stopped before midnight
	f.assign(t, "i-3", "bob", resource.StateRunning)
	f.record(t, "i-3", usage.KindStart, saturdayAt(20, 0))
	f.record(t, "i-3", usage.KindStop, saturdayAt(21, 0))

	// Not running
	f.assign(t, "i-4", "bob", resource.StateStopped)
	f.record(t, "i-4", usage.KindStart, saturdayAt(13, 0))

	// Running with no recorded events at all
	f.assign(t, "i-5", "bob", resource.StateRunning)

	n, err := f.engine.RecordMidnightStarts(ctx)
	if err != nil {
		t.Fatalf("RecordMidnightStarts failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 midnight starts, got %d", n)
	}

	n, err = f.engine.RecordMidnightStarts(ctx)
	if err != nil {
		t.Fatalf("RecordMidnightStarts failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected a second run to record nothing, got %d", n)
	}

	for entity, want := range map[string]bool{"i-1": true, "i-2": false, "i-3": false, "i-4": false, "i-5": true} {
		events, err := f.store.Events().Query(ctx, entity, sundayAt(0, 0), sundayAt(0, 0))
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		got := len(events) == 1 && events[0].Kind == usage.KindStart
		if got != want {
			t.Errorf("%s: expected midnight start %v, got %+v", entity, want, events)
		}
	}

	msgs, err := f.store.Client().XRange(ctx, "test:audit", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	midnight := 0
	for _, msg := range msgs {
		if msg.Values["source"] == usage.SourceMidnight {
			midnight++
		}
	}
	if midnight != 2 {
		t.Errorf("Expected 2 audited midnight starts, got %d", midnight)
	}

	// The carried session is charged from midnight only
	f.clock.Set(sundayAt(10, 0))
	charge, err := f.engine.ReconcileOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ReconcileOwner failed: %v", err)
	}
	if charge != 10*time.Hour+9*time.Hour+58*time.Minute {
		t.Errorf("Expected 19h58m charged across both entities, got %s", charge)
	}
}

func TestResetToday_RecordsMidnightStarts(t *testing.T) {
	f := setupFixture(t, sundayAt(0, 0).Add(30*time.Second))
	ctx := context.Background()
	f.assign(t, "i-1", "alice", resource.StateRunning)
	f.record(t, "i-1", usage.KindStart, saturdayAt(13, 0))

	if _, err := f.engine.ResetToday(ctx); err != nil {
		t.Fatalf("ResetToday failed: %v", err)
	}

	events, err := f.store.Events().Query(ctx, "i-1", sundayAt(0, 0), sundayAt(1, 0))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 || events[0].Kind != usage.KindStart || !events[0].Timestamp.Equal(sundayAt(0, 0)) {
		t.Errorf("Expected a start at midnight, got %+v", events)
	}
	if got := f.remaining(t, "alice"); got != 12*time.Hour {
		t.Errorf("Expected a fresh 12h budget, got %s", got)
	}
}


func TestAccountAndReclaim_SkipsOwnerOnEventFailure(t *testing.T) {
	f := setupFixture(t, tuesdayAt(21, 0))
	f.assign(t, "i-1", "alice", resource.StateStopped)
	f.assign(t, "i-2", "bob", resource.StateStopped)
	f.record(t, "i-1", usage.KindStart, tuesdayAt(19, 0))
	f.record(t, "i-1", usage.KindStop, tuesdayAt(20, 0))
	f.record(t, "i-2", usage.KindStart, tuesdayAt(19, 0))
	f.record(t, "i-2", usage.KindStop, tuesdayAt(20, 0))

	deps := f.deps
	deps.Events = failingEvents{EventStore: f.store.Events(), entity: "i-2"}
	eng := New(deps, f.opts, zerolog.Nop())

	stats, err := eng.AccountAndReclaim(context.Background())
	if !errors.Is(err, ErrExternalAPI) {
		t.Fatalf("Expected ErrExternalAPI, got %v", err)
	}
	if stats.OwnersReconciled != 1 || stats.OwnersSkipped != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if got := f.remaining(t, "alice"); got != 5*time.Hour {
		t.Errorf("Expected alice charged, got %s remaining", got)
	}
	if got := f.remaining(t, "bob"); got != 6*time.Hour {
		t.Errorf("Expected bob's ledger unchanged, got %s", got)
	}
}

func TestAccountAndReclaim_UpdatePeriodOnly(t *testing.T) {
	f := setupFixture(t, tuesdayAt(12, 0))
	opts := f.opts
	opts.UpdatePeriodOnly = true
	eng := New(f.deps, opts, zerolog.Nop())

	stats, err := eng.AccountAndReclaim(context.Background())
	if err != nil {
		t.Fatalf("AccountAndReclaim failed: %v", err)
	}
	if !stats.Skipped {
		t.Error("Expected sweep inside the exclusion window to be skipped")
	}

	f.clock.Set(tuesdayAt(19, 0))
	stats, err = eng.AccountAndReclaim(context.Background())
	if err != nil {
		t.Fatalf("AccountAndReclaim failed: %v", err)
	}
	if stats.Skipped {
		t.Error("Expected evening sweep to run")
	}
}

func TestAuthorizeStart(t *testing.T) {
	f := setupFixture(t, tuesdayAt(20, 0))
	ctx := context.Background()
	f.assign(t, "i-1", "alice", resource.StateStopped)
	f.record(t, "i-1", usage.KindStart, tuesdayAt(18, 30))
	f.record(t, "i-1", usage.KindStop, tuesdayAt(19, 30))

	d, err := f.engine.AuthorizeStart(ctx, "alice", "i-1")
	if err != nil {
		t.Fatalf("AuthorizeStart failed: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("Expected start allowed, got reason %q", d.Reason)
	}
	if d.Remaining != 5*time.Hour {
		t.Errorf("Expected the decision to see a fresh 5h, got %s", d.Remaining)
	}

	pending, err := f.store.Deferred().Pending(ctx)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if pending != 1 {
		t.Errorf("Expected one scheduled exhaustion check, got %d", pending)
	}

	d, err = f.engine.AuthorizeStart(ctx, "bob", "i-1")
	if err != nil {
		t.Fatalf("AuthorizeStart failed: %v", err)
	}
	if d.Allowed || d.Reason != policy.ReasonNotOwner {
		t.Errorf("Expected not_owner, got %+v", d)
	}
}

func TestAuthorizeStart_NoBudget(t *testing.T) {
	f := setupFixture(t, tuesdayAt(20, 0))
	f.assign(t, "i-1", "alice", resource.StateStopped)
	f.record(t, "i-1", usage.KindStart, tuesdayAt(0, 0))
	f.record(t, "i-1", usage.KindStop, tuesdayAt(7, 0))

	d, err := f.engine.AuthorizeStart(context.Background(), "alice", "i-1")
	if err != nil {
		t.Fatalf("AuthorizeStart failed: %v", err)
	}
	if d.Allowed || d.Reason != policy.ReasonNoBudget {
		t.Errorf("Expected no_budget, got %+v", d)
	}
}

func TestAuthorizeStop(t *testing.T) {
	f := setupFixture(t, tuesdayAt(20, 0))
	f.assign(t, "i-1", "alice", resource.StateRunning)
	if err := f.engine.Ledger.Set(context.Background(), "alice", 0, f.clock.Now()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	d, err := f.engine.AuthorizeStop(context.Background(), "alice", "i-1")
	if err != nil {
		t.Fatalf("AuthorizeStop failed: %v", err)
	}
	if !d.Allowed {
		t.Errorf("Expected stop allowed without budget, got reason %q", d.Reason)
	}
}

func TestRecordEvent_IgnoresDuplicates(t *testing.T) {
	f := setupFixture(t, tuesdayAt(20, 0))
	ev := usage.Event{EntityID: "i-1", Kind: usage.KindStart, Timestamp: tuesdayAt(19, 0)}

	for i := 0; i < 2; i++ {
		if err := f.engine.RecordEvent(context.Background(), ev); err != nil {
			t.Fatalf("RecordEvent #%d failed: %v", i, err)
		}
	}

	events, err := f.store.Events().Query(context.Background(), "i-1", tuesdayAt(0, 0), tuesdayAt(23, 0))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 stored event, got %d", len(events))
	}
}

func TestRunDeferred_ReclaimsWhenBudgetRunsOut(t *testing.T) {
	f := setupFixture(t, tuesdayAt(19, 0))
	ctx := context.Background()
	f.assign(t, "i-1", "alice", resource.StateStopped)
	if err := f.engine.Ledger.Set(ctx, "alice", time.Hour, f.clock.Now()); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	d, err := f.engine.AuthorizeStart(ctx, "alice", "i-1")
	if err != nil || !d.Allowed {
		t.Fatalf("Expected start allowed, got %+v, %v", d, err)
	}
	f.record(t, "i-1", usage.KindStart, f.clock.Now())
	if err := f.controller.ReportState(ctx, "i-1", resource.StateRunning); err != nil {
		t.Fatalf("ReportState failed: %v", err)
	}

	// Not yet due
	f.clock.Advance(30 * time.Minute)
	n, err := f.engine.RunDeferred(ctx)
	if err != nil {
		t.Fatalf("RunDeferred failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no tasks due, got %d", n)
	}

	f.clock.Advance(30 * time.Minute)
	n, err = f.engine.RunDeferred(ctx)
	if err != nil {
		t.Fatalf("RunDeferred failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 task run, got %d", n)
	}
	if got := f.remaining(t, "alice"); got != 0 {
		t.Errorf("Expected alice exhausted, got %s", got)
	}
	if f.stopCommands(t) != 1 || f.notifier.count("alice") != 1 {
		t.Error("Expected the running entity to be reclaimed with one notification")
	}
}

func TestStopAtWindowEnd(t *testing.T) {
	f := setupFixture(t, saturdayAt(18, 0))
	f.assign(t, "i-1", "alice", resource.StateRunning)

	stats, err := f.engine.StopAtWindowEnd(context.Background())
	if err != nil {
		t.Fatalf("StopAtWindowEnd failed: %v", err)
	}
	if stats.EntitiesStopped != 0 {
		t.Errorf("Expected nothing stopped on a weekend, got %d", stats.EntitiesStopped)
	}

	f.clock.Set(tuesdayAt(18, 0))
	stats, err = f.engine.StopAtWindowEnd(context.Background())
	if err != nil {
		t.Fatalf("StopAtWindowEnd failed: %v", err)
	}
	if stats.EntitiesStopped != 1 || f.notifier.count("alice") != 1 {
		t.Errorf("Expected one entity stopped and one notification, got %+v", stats)
	}
}

func TestStatusProvider(t *testing.T) {
	f := setupFixture(t, tuesdayAt(20, 0))
	ctx := context.Background()
	f.assign(t, "i-1", "alice", resource.StateRunning)

	v, err := f.engine.Owner(ctx, "alice")
	if err != nil {
		t.Fatalf("Owner failed: %v", err)
	}
	status := v.(*OwnerStatus)
	if status.Remaining != 6*time.Hour || len(status.Entities) != 1 || status.Entities[0].State != resource.StateRunning {
		t.Errorf("Unexpected status: %+v", status)
	}

	if _, err := f.engine.Owner(ctx, "nobody"); err == nil {
		t.Error("Expected error for unknown owner")
	}

	all, err := f.engine.Owners(ctx)
	if err != nil {
		t.Fatalf("Owners failed: %v", err)
	}
	if got := len(all.([]*OwnerStatus)); got != 1 {
		t.Errorf("Expected 1 owner, got %d", got)
	}
}
