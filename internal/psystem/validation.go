package psystem

import (
	"fmt"
	"strings"
)

// ValidationError collects multiple validation issues
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid system config: unknown validation error"
	}
	if len(e.Issues) == 1 {
		return e.Issues[0]
	}
	return "system config validation errors: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) Addf(format string, v ...any) {
	e.Add(fmt.Sprintf(format, v...))
}

func (e *ValidationError) HasIssues() bool {
	return len(e.Issues) > 0
}

// BuildError is returned by SystemBuilder.Build when the definition is not
// a valid P system. No partially built System is ever returned with it.
type BuildError struct {
	System string
	Issues []string
}

func (e *BuildError) Error() string {
	prefix := "invalid system"
	if e.System != "" {
		prefix = fmt.Sprintf("invalid system %q", e.System)
	}
	switch len(e.Issues) {
	case 0:
		return prefix + ": unknown build error"
	case 1:
		return prefix + ": " + e.Issues[0]
	default:
		return prefix + ": " + strings.Join(e.Issues, "; ")
	}
}

func (e *BuildError) addf(format string, v ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, v...))
}

// Valid target names for RuleConfig.Target
var validTargets = map[string]bool{
	"":     true,
	"here": true,
	"out":  true,
	"in":   true,
}

// ValidateSystemConfig performs structural validation of a SystemConfig
// before it is turned into a System. Tree-shape checks (single skin,
// reachability, child targets) are left to the builder.
func ValidateSystemConfig(cfg SystemConfig) error {
	err := &ValidationError{}

	if cfg.Name == "" {
		err.Add("system name is required")
	}

	if len(cfg.Membranes) == 0 {
		err.Add("at least one membrane is required")
	}

	ids := make(map[int]bool)
	for i, mc := range cfg.Membranes {
		if mc.ID <= 0 {
			err.Addf("membrane at index %d: id must be positive, got %d", i, mc.ID)
			continue
		}
		if ids[mc.ID] {
			err.Addf("duplicate membrane id: %d", mc.ID)
		}
		ids[mc.ID] = true
	}

	for key, objs := range cfg.Initial {
		var id int
		if _, scanErr := fmt.Sscanf(key, "%d", &id); scanErr != nil || fmt.Sprint(id) != key {
			err.Addf("initial multiset key %q is not a membrane id", key)
			continue
		}
		if !ids[id] {
			err.Addf("initial multiset for unknown membrane %d", id)
		}
		for obj, n := range objs {
			if obj == "" {
				err.Addf("initial multiset of membrane %d: empty object name", id)
			}
			if n < 0 {
				err.Addf("initial multiset of membrane %d: negative multiplicity for %q", id, obj)
			}
		}
	}

	for i, rc := range cfg.Rules {
		rulePrefix := fmt.Sprintf("rule at index %d", i)
		if rc.Name != "" {
			rulePrefix = "rule '" + rc.Name + "'"
		}

		if len(rc.LHS) == 0 {
			err.Add(rulePrefix + ": left-hand side is required")
		}
		validateObjectCounts(rc.LHS, rulePrefix+" lhs", err)
		validateObjectCounts(rc.RHS, rulePrefix+" rhs", err)

		if !validTargets[rc.Target] {
			err.Addf("%s: invalid target '%s', must be one of: here, out, in", rulePrefix, rc.Target)
		}
		if rc.Target == "in" {
			if rc.TargetLabel == nil && rc.TargetID == nil {
				err.Add(rulePrefix + ": target 'in' requires target_label or target_id")
			}
			if rc.TargetLabel != nil && rc.TargetID != nil {
				err.Add(rulePrefix + ": target 'in' accepts only one of target_label and target_id")
			}
		} else if rc.TargetLabel != nil || rc.TargetID != nil {
			err.Add(rulePrefix + ": target_label/target_id require target 'in'")
		}
	}

	if err.HasIssues() {
		return err
	}
	return nil
}

func validateObjectCounts(objs map[string]int, prefix string, err *ValidationError) {
	for obj, n := range objs {
		if obj == "" {
			err.Add(prefix + ": empty object name")
		}
		if n <= 0 {
			err.Addf("%s: multiplicity of %q must be positive, got %d", prefix, obj, n)
		}
	}
}
