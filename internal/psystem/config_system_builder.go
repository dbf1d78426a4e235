package psystem

import (
	"strconv"
)

// BuildSystemFromConfig converts a SystemConfig to a System
func BuildSystemFromConfig(cfg SystemConfig) (*System, error) {
	// Validate the configuration first
	if err := ValidateSystemConfig(cfg); err != nil {
		return nil, err
	}

	b := NewSystemBuilder(cfg.Name).WithModel(cfg.Model)

	for _, obj := range cfg.Alphabet {
		b.WithAlphabet(Object(obj))
	}

	// Membranes
	for _, mc := range cfg.Membranes {
		b.WithMembrane(MembraneID(mc.ID), Label(mc.Label), MembraneID(mc.Parent))
	}

	// Initial multisets, keys already checked by validation
	for key, objs := range cfg.Initial {
		id, _ := strconv.Atoi(key)
		b.WithInitial(MembraneID(id), multisetFromConfig(objs))
	}

	// Rules
	for _, rc := range cfg.Rules {
		r := Rule{
			Name:     rc.Name,
			Label:    Label(rc.Label),
			LHS:      multisetFromConfig(rc.LHS),
			RHS:      multisetFromConfig(rc.RHS),
			Target:   targetFromConfig(rc),
			Dissolve: rc.Dissolve,
			Priority: rc.Priority,
		}
		b.WithRules(r)
	}

	return b.Build()
}

// ConfigFromSystem converts a System back into its JSON form.
func ConfigFromSystem(sys *System) SystemConfig {
	cfg := SystemConfig{
		Name:    sys.name,
		Model:   sys.model,
		Initial: make(map[string]map[string]int),
		Rules:   make([]RuleConfig, 0, len(sys.rules)),
	}

	for _, id := range sys.order {
		m := sys.membranes[id]
		cfg.Membranes = append(cfg.Membranes, MembraneConfig{
			ID:     int(m.ID),
			Label:  int(m.Label),
			Parent: int(m.Parent),
		})
		if init := sys.initial[id]; !init.IsEmpty() {
			cfg.Initial[strconv.Itoa(int(id))] = multisetToConfig(init)
		}
	}

	for _, r := range sys.rules {
		rc := RuleConfig{
			Name:     r.Name,
			Label:    int(r.Label),
			LHS:      multisetToConfig(r.LHS),
			RHS:      multisetToConfig(r.RHS),
			Dissolve: r.Dissolve,
			Priority: r.Priority,
		}
		ref := r.Target.Ref
		switch r.Target.Kind {
		case TargetParent:
			rc.Target = "out"
		case TargetChildLabel:
			rc.Target = "in"
			rc.TargetLabel = &ref
		case TargetChildID:
			rc.Target = "in"
			rc.TargetID = &ref
		}
		if len(rc.RHS) == 0 {
			rc.RHS = nil
		}
		cfg.Rules = append(cfg.Rules, rc)
	}

	return cfg
}

func targetFromConfig(rc RuleConfig) Target {
	switch rc.Target {
	case "out":
		return ToParent()
	case "in":
		if rc.TargetID != nil {
			return ToChildID(MembraneID(*rc.TargetID))
		}
		if rc.TargetLabel != nil {
			return ToChildLabel(Label(*rc.TargetLabel))
		}
	}
	return Here()
}

func multisetFromConfig(objs map[string]int) Multiset {
	counts := make(map[Object]int, len(objs))
	for obj, n := range objs {
		counts[Object(obj)] = n
	}
	return NewMultiset(counts)
}

func multisetToConfig(m Multiset) map[string]int {
	out := make(map[string]int, m.Len())
	for obj, n := range m.counts {
		out[string(obj)] = n
	}
	return out
}
