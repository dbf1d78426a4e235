package psystem

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SnapshotStore persists environment snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, id EnvironmentID, snapshot Snapshot) error
	Load(ctx context.Context, id EnvironmentID) (Snapshot, error)
}

// StepObserver is called after every step an environment takes.
type StepObserver func(id EnvironmentID, report StepReport, halted bool)

// DefaultTraceLimit bounds the configurations an environment keeps in memory.
const DefaultTraceLimit = 1000

// Environment is a running simulation of one System: it owns the current
// configuration and advances it on demand or on a ticker.
type Environment struct {
	mu        sync.RWMutex
	id        EnvironmentID
	system    *System
	sim       *Simulator
	opts      []Option
	current   Configuration
	trace     []Configuration
	traceMax  int
	stopCh    chan struct{}
	isRunning bool
	logger    Logger

	// Notification support
	notificationManager *NotificationManager
	notifiers           []string

	// Snapshot support
	snapshotStore SnapshotStore
	snapshotEvery int

	observer StepObserver
}

// NewEnvironment creates an environment positioned at the initial
// configuration of sys. Options configure its simulator.
func NewEnvironment(sys *System, opts ...Option) *Environment {
	e := &Environment{
		system:   sys,
		opts:     opts,
		traceMax: DefaultTraceLimit,
		stopCh:   make(chan struct{}),
	}
	e.sim = NewSimulator(sys, opts...)
	e.logger = e.sim.logger
	e.current = NewConfiguration(sys)
	e.trace = []Configuration{e.current}
	return e
}

// SetEnvironmentID sets the id reported in events and snapshots
func (e *Environment) SetEnvironmentID(id EnvironmentID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.id = id
}

// ID returns the environment id
func (e *Environment) ID() EnvironmentID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.id
}

// System returns the simulated system
func (e *Environment) System() *System {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.system
}

// Policy returns the dissolution policy of the environment's simulator
func (e *Environment) Policy() DissolutionPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sim.Policy()
}

// Configuration returns the current configuration
func (e *Environment) Configuration() Configuration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Trace returns the configurations kept in memory, oldest first
func (e *Environment) Trace() []Configuration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Configuration(nil), e.trace...)
}

// SetTraceLimit bounds the in-memory trace. Values < 1 keep only the
// current configuration.
func (e *Environment) SetTraceLimit(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n < 1 {
		n = 1
	}
	e.traceMax = n
	e.trimTrace()
}

// IsHalted reports whether the current configuration has no applicable rule
func (e *Environment) IsHalted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sim.IsHalted(e.current)
}

// IsRunning reports whether the ticker goroutine is active
func (e *Environment) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// SetNotificationManager sets the notification manager used for step events
func (e *Environment) SetNotificationManager(nm *NotificationManager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notificationManager = nm
}

// SetNotifiers selects which notifiers receive this environment's step events
func (e *Environment) SetNotifiers(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append([]string(nil), ids...)
}

// Notifiers returns the notifier ids receiving step events
func (e *Environment) Notifiers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.notifiers...)
}

// SetSnapshotStore configures snapshot persistence. When every > 0 a
// snapshot is saved automatically each time the step counter is a
// multiple of every.
func (e *Environment) SetSnapshotStore(store SnapshotStore, every int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshotStore = store
	e.snapshotEvery = every
}

// SetStepObserver registers a callback run after every step
func (e *Environment) SetStepObserver(fn StepObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// Step advances the environment by one maximally parallel step.
func (e *Environment) Step() StepReport {
	e.mu.Lock()
	next, report := e.sim.StepWithReport(e.current)
	e.current = next
	e.trace = append(e.trace, next)
	e.trimTrace()
	halted := e.sim.IsHalted(next)

	id := e.id
	sys := e.system
	nm := e.notificationManager
	notifiers := e.notifiers
	store := e.snapshotStore
	every := e.snapshotEvery
	observer := e.observer
	logger := e.logger
	e.mu.Unlock()

	if nm != nil && len(notifiers) > 0 {
		nm.Enqueue(NewStepEvent(id, sys, report, halted), notifiers)
	}

	if store != nil && every > 0 && next.step%every == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.Save(ctx, id, SnapshotFromConfiguration(id, sys, next)); err != nil {
			logger.Errorf("periodic snapshot failed: env=%s step=%d error=%v", id, next.step, err)
		}
		cancel()
	}

	if observer != nil {
		observer(id, report, halted)
	}

	return report
}

// trimTrace drops the oldest configurations beyond the limit; callers hold mu.
func (e *Environment) trimTrace() {
	if over := len(e.trace) - e.traceMax; over > 0 {
		e.trace = append([]Configuration(nil), e.trace[over:]...)
	}
}

// Run will start the environment in a goroutine, stepping on every tick
// until Stop is called or the configuration halts. It can be called again
// to restart after stopping.
func (e *Environment) Run(interval time.Duration) {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return
	}
	// A new stop channel for this run allows restart after stop
	stopCh := make(chan struct{})
	e.stopCh = stopCh
	e.isRunning = true
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if e.IsHalted() {
					e.markStopped(stopCh)
					e.logger.Infof("environment halted: env=%s", e.ID())
					return
				}
				e.Step()
			case <-stopCh:
				e.markStopped(stopCh)
				return
			}
		}
	}()
}

func (e *Environment) markStopped(stopCh chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh == stopCh {
		e.isRunning = false
	}
}

// Stop will stop the environment by closing the stop channel.
// After stopping, Run() can be called again to restart.
func (e *Environment) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isRunning {
		return
	}
	close(e.stopCh)
	e.isRunning = false
}

// Reset brings the environment back to the initial configuration.
func (e *Environment) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = NewConfiguration(e.system)
	e.trace = []Configuration{e.current}
}

// SetSystem replaces the simulated system and resets the environment.
func (e *Environment) SetSystem(sys *System) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.system = sys
	e.sim = NewSimulator(sys, e.opts...)
	e.current = NewConfiguration(sys)
	e.trace = []Configuration{e.current}
}

// Inject adds objects to an active membrane of the current configuration.
func (e *Environment) Inject(id MembraneID, objs Multiset) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := e.current.WithObjects(id, objs)
	if err != nil {
		return err
	}
	e.current = next
	if len(e.trace) > 0 {
		e.trace[len(e.trace)-1] = next
	}
	return nil
}

// Simulate runs the system from its initial configuration without touching
// the environment's own state.
func (e *Environment) Simulate(maxSteps int, trace bool) SimulationResult {
	e.mu.RLock()
	sim := e.sim
	sys := e.system
	e.mu.RUnlock()
	return sim.Run(NewConfiguration(sys), maxSteps, trace)
}

// Snapshot captures the current configuration.
func (e *Environment) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return SnapshotFromConfiguration(e.id, e.system, e.current)
}

// Restore replaces the current configuration with the one in snapshot.
func (e *Environment) Restore(snapshot Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, err := RestoreConfiguration(snapshot, e.system)
	if err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	e.current = cfg
	e.trace = []Configuration{cfg}
	return nil
}

// SaveSnapshot writes the current configuration to the snapshot store.
func (e *Environment) SaveSnapshot(ctx context.Context) (Snapshot, error) {
	e.mu.RLock()
	store := e.snapshotStore
	e.mu.RUnlock()
	if store == nil {
		return Snapshot{}, fmt.Errorf("no snapshot store configured")
	}
	snap := e.Snapshot()
	if err := store.Save(ctx, snap.EnvironmentID, snap); err != nil {
		return Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	return snap, nil
}

// LoadSnapshot restores the latest snapshot from the snapshot store.
func (e *Environment) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	e.mu.RLock()
	store := e.snapshotStore
	id := e.id
	e.mu.RUnlock()
	if store == nil {
		return Snapshot{}, fmt.Errorf("no snapshot store configured")
	}
	snap, err := store.Load(ctx, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	if err := e.Restore(snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
