package psystem

import (
	"fmt"
	"sort"
	"sync"
)

// EnvironmentID is a unique identifier for an environment
type EnvironmentID string

// EnvironmentManager manages multiple environments, each isolated from others
type EnvironmentManager struct {
	mu           sync.RWMutex
	environments map[EnvironmentID]*Environment
	opts         []Option
}

// NewEnvironmentManager creates a new environment manager. The options are
// applied to the simulator of every environment it creates.
func NewEnvironmentManager(opts ...Option) *EnvironmentManager {
	return &EnvironmentManager{
		environments: make(map[EnvironmentID]*Environment),
		opts:         opts,
	}
}

// CreateEnvironment creates a new environment with the given ID and system.
// Returns an error if an environment with that ID already exists
func (em *EnvironmentManager) CreateEnvironment(id EnvironmentID, sys *System) (*Environment, error) {
	if sys == nil {
		return nil, fmt.Errorf("system cannot be nil")
	}

	em.mu.Lock()
	defer em.mu.Unlock()

	if _, exists := em.environments[id]; exists {
		return nil, fmt.Errorf("environment with id %s already exists", id)
	}

	env := NewEnvironment(sys, em.opts...)
	env.SetEnvironmentID(id)
	em.environments[id] = env
	return env, nil
}

// GetEnvironment retrieves an environment by ID
func (em *EnvironmentManager) GetEnvironment(id EnvironmentID) (*Environment, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	env, exists := em.environments[id]
	return env, exists
}

// DeleteEnvironment stops and removes an environment by ID
func (em *EnvironmentManager) DeleteEnvironment(id EnvironmentID) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	env, exists := em.environments[id]
	if !exists {
		return fmt.Errorf("environment with id %s does not exist", id)
	}

	env.Stop()
	delete(em.environments, id)
	return nil
}

// ListEnvironments returns all environment IDs, sorted
func (em *EnvironmentManager) ListEnvironments() []EnvironmentID {
	em.mu.RLock()
	defer em.mu.RUnlock()

	ids := make([]EnvironmentID, 0, len(em.environments))
	for id := range em.environments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UpdateEnvironmentSystem replaces the system of an existing environment.
// The environment is stopped and reset to the new initial configuration.
func (em *EnvironmentManager) UpdateEnvironmentSystem(id EnvironmentID, sys *System) error {
	if sys == nil {
		return fmt.Errorf("system cannot be nil")
	}

	em.mu.RLock()
	env, exists := em.environments[id]
	em.mu.RUnlock()

	if !exists {
		return fmt.Errorf("environment with id %s does not exist", id)
	}

	env.Stop()
	env.SetSystem(sys)
	return nil
}

// StopAll stops every running environment
func (em *EnvironmentManager) StopAll() {
	em.mu.RLock()
	defer em.mu.RUnlock()
	for _, env := range em.environments {
		env.Stop()
	}
}
