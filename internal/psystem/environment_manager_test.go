package psystem

import (
	"testing"
	"time"
)

func TestEnvironmentManager_CreateAndGet(t *testing.T) {
	em := NewEnvironmentManager()
	sys := countdownSystem(t, 2)

	env, err := em.CreateEnvironment("env1", sys)
	if err != nil {
		t.Fatalf("Failed to create environment: %v", err)
	}
	if env.ID() != "env1" {
		t.Errorf("Expected id env1, got %s", env.ID())
	}

	if _, err := em.CreateEnvironment("env1", sys); err == nil {
		t.Error("Expected error for duplicate environment id")
	}
	if _, err := em.CreateEnvironment("env2", nil); err == nil {
		t.Error("Expected error for nil system")
	}

	got, exists := em.GetEnvironment("env1")
	if !exists || got != env {
		t.Error("Expected to retrieve the created environment")
	}
	if _, exists := em.GetEnvironment("missing"); exists {
		t.Error("Expected missing environment not to exist")
	}
}

func TestEnvironmentManager_List(t *testing.T) {
	em := NewEnvironmentManager()
	sys := countdownSystem(t, 1)
	em.CreateEnvironment("b", sys)
	em.CreateEnvironment("a", sys)

	ids := em.ListEnvironments()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Expected [a b], got %v", ids)
	}
}

func TestEnvironmentManager_Delete(t *testing.T) {
	em := NewEnvironmentManager()
	env, _ := em.CreateEnvironment("env1", countdownSystem(t, 1000))
	env.Run(time.Millisecond)

	if err := em.DeleteEnvironment("env1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if env.IsRunning() {
		t.Error("Expected deleted environment to be stopped")
	}
	if err := em.DeleteEnvironment("env1"); err == nil {
		t.Error("Expected error deleting a missing environment")
	}
}

func TestEnvironmentManager_UpdateEnvironmentSystem(t *testing.T) {
	em := NewEnvironmentManager(WithDissolutionPolicy(ReparentChildren))
	env, _ := em.CreateEnvironment("env1", countdownSystem(t, 2))
	env.Step()

	if err := em.UpdateEnvironmentSystem("env1", countdownSystem(t, 4)); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}
	if env.Configuration().Step() != 0 || !env.Configuration().Multiset(1).Equal(MultisetOf("t4")) {
		t.Errorf("Expected environment reset to the new system, got %s", env.Configuration())
	}
	if env.sim.Policy() != ReparentChildren {
		t.Error("Expected manager options to carry over to the new simulator")
	}
	if err := em.UpdateEnvironmentSystem("missing", countdownSystem(t, 1)); err == nil {
		t.Error("Expected error for missing environment")
	}
}
