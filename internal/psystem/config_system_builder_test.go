package psystem

import (
	"encoding/json"
	"strings"
	"testing"
)

func intPtr(v int) *int { return &v }

func sampleSystemConfig() SystemConfig {
	return SystemConfig{
		Name:  "sample",
		Model: "transition",
		Membranes: []MembraneConfig{
			{ID: 1, Label: 1},
			{ID: 2, Label: 2, Parent: 1},
		},
		Initial: map[string]map[string]int{
			"1": {"c": 1},
			"2": {"a": 2},
		},
		Rules: []RuleConfig{
			{Name: "expel", Label: 2, LHS: map[string]int{"a": 1}, RHS: map[string]int{"b": 1}, Target: "out"},
			{Name: "feed", Label: 1, LHS: map[string]int{"c": 1}, RHS: map[string]int{"d": 1}, Target: "in", TargetLabel: intPtr(2)},
			{Name: "pop", Label: 2, LHS: map[string]int{"d": 1}, Dissolve: true, Priority: 3},
		},
	}
}

func TestBuildSystemFromConfig(t *testing.T) {
	sys, err := BuildSystemFromConfig(sampleSystemConfig())
	if err != nil {
		t.Fatalf("Failed to build system: %v", err)
	}

	if len(sys.Rules()) != 3 {
		t.Fatalf("Expected 3 rules, got %d", len(sys.Rules()))
	}
	if sys.Rule(0).Target != ToParent() {
		t.Errorf("Expected rule 0 to target the parent, got %s", sys.Rule(0).Target)
	}
	if sys.Rule(1).Target != ToChildLabel(2) {
		t.Errorf("Expected rule 1 to target label 2, got %s", sys.Rule(1).Target)
	}
	if !sys.Rule(2).Dissolve || sys.Rule(2).Priority != 3 {
		t.Errorf("Expected rule 2 to dissolve with priority 3, got %+v", sys.Rule(2))
	}
	if sys.Initial(2).Count("a") != 2 {
		t.Errorf("Expected membrane 2 to start with a{2}, got %s", sys.Initial(2))
	}

	result := Simulate(sys, 10, false)
	if !result.Halted {
		t.Error("Expected sample system to halt")
	}
	if !result.Final.Multiset(1).Equal(MultisetOf("b", "b")) {
		t.Errorf("Expected skin {b:2}, got %s", result.Final.Multiset(1))
	}
	if result.Final.IsActive(2) {
		t.Error("Expected membrane 2 to be dissolved")
	}
}

func TestBuildSystemFromConfig_ValidationFailure(t *testing.T) {
	cfg := sampleSystemConfig()
	cfg.Rules[0].Target = "sideways"

	_, err := BuildSystemFromConfig(cfg)
	if err == nil {
		t.Fatal("Expected error for invalid target")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("Expected ValidationError, got %T", err)
	}
	if !strings.Contains(err.Error(), "invalid target 'sideways'") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestBuildSystemFromConfig_BuildFailure(t *testing.T) {
	cfg := sampleSystemConfig()
	cfg.Membranes[1].Parent = 7

	_, err := BuildSystemFromConfig(cfg)
	if err == nil {
		t.Fatal("Expected error for unknown parent")
	}
	if _, ok := err.(*BuildError); !ok {
		t.Fatalf("Expected BuildError, got %T", err)
	}
}

func TestConfigFromSystem_RoundTrip(t *testing.T) {
	sys, err := BuildSystemFromConfig(sampleSystemConfig())
	if err != nil {
		t.Fatalf("Failed to build system: %v", err)
	}

	data, err := json.Marshal(ConfigFromSystem(sys))
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}
	var cfg SystemConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Failed to unmarshal config: %v", err)
	}

	again, err := BuildSystemFromConfig(cfg)
	if err != nil {
		t.Fatalf("Failed to rebuild system: %v", err)
	}

	a := Simulate(sys, 10, true)
	b := Simulate(again, 10, true)
	if len(a.Trace) != len(b.Trace) {
		t.Fatalf("Expected equal trace lengths, got %d and %d", len(a.Trace), len(b.Trace))
	}
	for i := range a.Trace {
		if !a.Trace[i].Equal(b.Trace[i]) {
			t.Errorf("Traces differ at step %d: %s vs %s", i, a.Trace[i], b.Trace[i])
		}
	}
}

func TestValidateSystemConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SystemConfig)
		want   string
	}{
		{"missing name", func(c *SystemConfig) { c.Name = "" }, "system name is required"},
		{"no membranes", func(c *SystemConfig) { c.Membranes = nil; c.Initial = nil }, "at least one membrane"},
		{"duplicate id", func(c *SystemConfig) { c.Membranes[1].ID = 1 }, "duplicate membrane id: 1"},
		{"bad initial key", func(c *SystemConfig) { c.Initial["skin"] = map[string]int{"a": 1} }, "is not a membrane id"},
		{"initial for unknown id", func(c *SystemConfig) { c.Initial["9"] = map[string]int{"a": 1} }, "unknown membrane 9"},
		{"empty lhs", func(c *SystemConfig) { c.Rules[0].LHS = nil }, "left-hand side is required"},
		{"zero count", func(c *SystemConfig) { c.Rules[0].RHS = map[string]int{"b": 0} }, "must be positive"},
		{"in without ref", func(c *SystemConfig) { c.Rules[1].TargetLabel = nil }, "requires target_label or target_id"},
		{"in with both refs", func(c *SystemConfig) { c.Rules[1].TargetID = intPtr(2) }, "only one of"},
		{"ref without in", func(c *SystemConfig) { c.Rules[0].TargetID = intPtr(2) }, "require target 'in'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sampleSystemConfig()
			tt.mutate(&cfg)

			err := ValidateSystemConfig(cfg)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}

	if err := ValidateSystemConfig(sampleSystemConfig()); err != nil {
		t.Errorf("Expected sample config to be valid, got: %v", err)
	}
}
