package psystem

import (
	"fmt"
	"strings"
)

// TargetKind selects where the right-hand side of a rule is delivered.
type TargetKind int

const (
	// TargetHere keeps the produced objects in the membrane where the rule fired.
	TargetHere TargetKind = iota
	// TargetParent sends the produced objects to the enclosing membrane.
	// Objects sent out of the skin leave the system.
	TargetParent
	// TargetChildLabel sends the produced objects into the first active
	// child carrying the referenced label.
	TargetChildLabel
	// TargetChildID sends the produced objects into the child with the
	// referenced id.
	TargetChildID
)

// String returns the string representation of the target kind
func (k TargetKind) String() string {
	switch k {
	case TargetHere:
		return "here"
	case TargetParent:
		return "out"
	case TargetChildLabel:
		return "in"
	case TargetChildID:
		return "in_id"
	default:
		return "unknown"
	}
}

// Target is the communication target of a rule. It is a closed sum: use
// Here, ToParent, ToChildLabel or ToChildID to build one.
type Target struct {
	Kind TargetKind
	// Ref is the child label (TargetChildLabel) or child id (TargetChildID).
	Ref int
}

// Here keeps produced objects in place.
func Here() Target { return Target{Kind: TargetHere} }

// ToParent sends produced objects to the parent membrane.
func ToParent() Target { return Target{Kind: TargetParent} }

// ToChildLabel sends produced objects into a child with the given label.
func ToChildLabel(l Label) Target { return Target{Kind: TargetChildLabel, Ref: int(l)} }

// ToChildID sends produced objects into the child with the given id.
func ToChildID(id MembraneID) Target { return Target{Kind: TargetChildID, Ref: int(id)} }

func (t Target) String() string {
	switch t.Kind {
	case TargetParent:
		return "out"
	case TargetChildLabel:
		return fmt.Sprintf("in'%d", t.Ref)
	case TargetChildID:
		return fmt.Sprintf("in#%d", t.Ref)
	default:
		return "here"
	}
}

// Rule is a rewrite rule scoped to every membrane carrying Label.
// A higher Priority wins over a lower one; within a tier, declaration order
// is the tie-break.
type Rule struct {
	Name     string
	Label    Label
	LHS      Multiset
	RHS      Multiset
	Target   Target
	Dissolve bool
	Priority int
}

// NewRule creates a rule that rewrites lhs into rhs inside membranes
// labelled l, keeping the output in place.
func NewRule(l Label, lhs, rhs Multiset) Rule {
	return Rule{Label: l, LHS: lhs, RHS: rhs, Target: Here()}
}

// To returns a copy of the rule with a different target.
func (r Rule) To(t Target) Rule {
	r.Target = t
	return r
}

// Dissolving returns a copy of the rule that dissolves its membrane.
func (r Rule) Dissolving() Rule {
	r.Dissolve = true
	return r
}

// WithPriority returns a copy of the rule with the given priority.
func (r Rule) WithPriority(p int) Rule {
	r.Priority = p
	return r
}

// Named returns a copy of the rule with the given name.
func (r Rule) Named(name string) Rule {
	r.Name = name
	return r
}

// Applicable reports whether the left-hand side is contained in m.
// Target availability is checked separately by the simulator.
func (r Rule) Applicable(m Multiset) bool {
	return r.LHS.SubsetOf(m)
}

// Apply fires one instance of the rule against m, ignoring the target:
// the result is (m - LHS) + RHS. It returns false when the rule is not
// applicable.
func (r Rule) Apply(m Multiset) (Multiset, bool) {
	rest, ok := m.Difference(r.LHS)
	if !ok {
		return Multiset{}, false
	}
	return rest.Union(r.RHS), true
}

// String renders the rule in DSL-like notation, for logs.
func (r Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]'%d --> ", r.LHS, r.Label)
	switch r.Target.Kind {
	case TargetHere:
		if r.Dissolve && r.RHS.IsEmpty() {
			fmt.Fprintf(&b, "[ ]'%d", r.Label)
		} else {
			fmt.Fprintf(&b, "[%s]'%d", r.RHS, r.Label)
			if r.Dissolve {
				b.WriteString(" []")
			}
		}
	default:
		fmt.Fprintf(&b, "(%s, %s)", r.RHS, r.Target)
		if r.Dissolve {
			b.WriteString(" []")
		}
	}
	if r.Priority != 0 {
		fmt.Fprintf(&b, " priority=%d", r.Priority)
	}
	return b.String()
}
