package psystem

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func countdownSystem(t *testing.T, n int) *System {
	t.Helper()
	rules := make([]Rule, 0, n)
	for i := n; i > 0; i-- {
		rules = append(rules, NewRule(1, MultisetOf(Object(fmt.Sprintf("t%d", i))), MultisetOf(Object(fmt.Sprintf("t%d", i-1)))))
	}
	return mustBuild(t, NewSystemBuilder("countdown").
		WithMembrane(1, 1, NoMembrane).
		WithMembrane(2, 2, 1).
		WithInitial(1, MultisetOf(Object(fmt.Sprintf("t%d", n)))).
		WithRules(rules...))
}

type memorySnapshotStore struct {
	mu    sync.Mutex
	saved map[EnvironmentID][]Snapshot
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{saved: make(map[EnvironmentID][]Snapshot)}
}

func (s *memorySnapshotStore) Save(ctx context.Context, id EnvironmentID, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[id] = append(s.saved[id], snap)
	return nil
}

func (s *memorySnapshotStore) Load(ctx context.Context, id EnvironmentID) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.saved[id]
	if len(snaps) == 0 {
		return Snapshot{}, fmt.Errorf("snapshot for %s not found", id)
	}
	return snaps[len(snaps)-1], nil
}

func (s *memorySnapshotStore) count(id EnvironmentID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved[id])
}

func TestNewEnvironment(t *testing.T) {
	sys := countdownSystem(t, 3)
	env := NewEnvironment(sys)

	if env.System() != sys {
		t.Error("Environment system mismatch")
	}
	if env.Configuration().Step() != 0 {
		t.Errorf("Expected initial step 0, got %d", env.Configuration().Step())
	}
	if len(env.Trace()) != 1 {
		t.Errorf("Expected trace with the initial configuration, got %d entries", len(env.Trace()))
	}
	if env.IsRunning() {
		t.Error("Expected new environment not to be running")
	}
}

func TestEnvironment_StepAndReset(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 2))

	report := env.Step()
	if report.Step != 1 || report.Fired() != 1 {
		t.Errorf("Expected step 1 with one firing, got %+v", report)
	}
	env.Step()
	if !env.IsHalted() {
		t.Error("Expected environment to halt after 2 steps")
	}
	if !env.Configuration().Multiset(1).Equal(MultisetOf("t0")) {
		t.Errorf("Expected {t0}, got %s", env.Configuration().Multiset(1))
	}

	env.Reset()
	if env.Configuration().Step() != 0 || !env.Configuration().Multiset(1).Equal(MultisetOf("t2")) {
		t.Errorf("Expected reset to initial configuration, got %s", env.Configuration())
	}
}

func TestEnvironment_TraceLimit(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 10))
	env.SetTraceLimit(3)

	for range 5 {
		env.Step()
	}

	trace := env.Trace()
	if len(trace) != 3 {
		t.Fatalf("Expected 3 configurations, got %d", len(trace))
	}
	if trace[0].Step() != 3 || trace[2].Step() != 5 {
		t.Errorf("Expected steps 3..5, got %d..%d", trace[0].Step(), trace[2].Step())
	}
}

func TestEnvironment_Inject(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 1))

	if err := env.Inject(2, MultisetOf("x", "x")); err != nil {
		t.Fatalf("Unexpected inject error: %v", err)
	}
	if env.Configuration().Multiset(2).Count("x") != 2 {
		t.Errorf("Expected x{2} in membrane 2, got %s", env.Configuration().Multiset(2))
	}
	if err := env.Inject(9, MultisetOf("x")); err == nil {
		t.Error("Expected error injecting into unknown membrane")
	}
}

func TestEnvironment_SimulateDoesNotMutate(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 4))

	result := env.Simulate(100, false)
	if !result.Halted || result.Steps != 4 {
		t.Errorf("Expected halt after 4 steps, got halted=%t steps=%d", result.Halted, result.Steps)
	}
	if env.Configuration().Step() != 0 {
		t.Errorf("Expected environment untouched, got step %d", env.Configuration().Step())
	}
}

func TestEnvironment_RunStopsWhenHalted(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 3))
	env.Run(5 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for env.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if env.IsRunning() {
		t.Fatal("Expected environment to stop once halted")
	}
	if env.Configuration().Step() != 3 {
		t.Errorf("Expected 3 steps, got %d", env.Configuration().Step())
	}
}

func TestEnvironment_RunAndStop(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 1000))
	env.Run(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	env.Stop()

	if env.IsRunning() {
		t.Error("Expected environment to be stopped")
	}
	stepped := env.Configuration().Step()
	if stepped == 0 {
		t.Error("Expected at least one step while running")
	}

	// restart is allowed
	env.Run(time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	env.Stop()
	if env.Configuration().Step() <= stepped {
		t.Error("Expected environment to keep stepping after restart")
	}
}

func TestEnvironment_Snapshots(t *testing.T) {
	store := newMemorySnapshotStore()
	env := NewEnvironment(countdownSystem(t, 6))
	env.SetEnvironmentID("env-snap")
	env.SetSnapshotStore(store, 2)

	for range 5 {
		env.Step()
	}
	if got := store.count("env-snap"); got != 2 {
		t.Errorf("Expected 2 periodic snapshots (steps 2 and 4), got %d", got)
	}

	saved, err := env.SaveSnapshot(context.Background())
	if err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}
	if saved.Step != 5 {
		t.Errorf("Expected snapshot at step 5, got %d", saved.Step)
	}

	env.Reset()
	if _, err := env.LoadSnapshot(context.Background()); err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}
	if env.Configuration().Step() != 5 || !env.Configuration().Multiset(1).Equal(MultisetOf("t1")) {
		t.Errorf("Expected restored step 5 with {t1}, got %s", env.Configuration())
	}
}

func TestEnvironment_SaveSnapshotWithoutStore(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 1))
	if _, err := env.SaveSnapshot(context.Background()); err == nil {
		t.Error("Expected error without a snapshot store")
	}
}

func TestEnvironment_StepObserver(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 2))
	env.SetEnvironmentID("observed")

	var seen []bool
	env.SetStepObserver(func(id EnvironmentID, report StepReport, halted bool) {
		if id != "observed" {
			t.Errorf("Expected id observed, got %s", id)
		}
		seen = append(seen, halted)
	})

	env.Step()
	env.Step()

	if len(seen) != 2 || seen[0] || !seen[1] {
		t.Errorf("Expected halted flags [false true], got %v", seen)
	}
}

func TestEnvironment_SetSystem(t *testing.T) {
	env := NewEnvironment(countdownSystem(t, 2))
	env.Step()

	env.SetSystem(countdownSystem(t, 5))
	if env.Configuration().Step() != 0 {
		t.Errorf("Expected reset after system change, got step %d", env.Configuration().Step())
	}
	if !env.Configuration().Multiset(1).Equal(MultisetOf("t5")) {
		t.Errorf("Expected {t5}, got %s", env.Configuration().Multiset(1))
	}
}
