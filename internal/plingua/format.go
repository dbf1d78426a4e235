package plingua

import (
	"fmt"
	"strings"

	"github.com/daniacca/membranedb/internal/psystem"
)

// Format renders sys in the textual syntax accepted by Parse. Parsing the
// output yields a system with the same structure, initial multisets and
// rule behaviour.
//
// Not every System has a textual form: membrane ids must follow the
// preorder numbering the syntax implies, rules must use priority 0 and
// target children by label, and all names must be identifiers.
func Format(sys *psystem.System) (string, error) {
	if err := checkIdent(sys.Name()); err != nil {
		return "", fmt.Errorf("system name: %w", err)
	}

	var sb strings.Builder

	if sys.Model() != "" {
		if err := checkIdent(sys.Model()); err != nil {
			return "", fmt.Errorf("model: %w", err)
		}
		fmt.Fprintf(&sb, "@model<%s>\n\n", sys.Model())
	}
	fmt.Fprintf(&sb, "def %s() {\n", sys.Name())

	next := psystem.MembraneID(1)
	structure, err := formatStructure(sys, sys.Skin(), &next)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "    @mu = %s;\n", structure)

	for _, id := range sys.MembraneIDs() {
		m := sys.Initial(id)
		if m.IsEmpty() {
			continue
		}
		ms, err := formatMultiset(m)
		if err != nil {
			return "", fmt.Errorf("membrane %d: %w", id, err)
		}
		fmt.Fprintf(&sb, "    @ms(%d) = %s;\n", id, ms)
	}

	if len(sys.Rules()) > 0 {
		sb.WriteString("\n")
	}
	for i, r := range sys.Rules() {
		line, err := formatRule(r)
		if err != nil {
			return "", fmt.Errorf("rule %d: %w", i, err)
		}
		fmt.Fprintf(&sb, "    %s\n", line)
	}

	sb.WriteString("}\n")
	return sb.String(), nil
}

func formatStructure(sys *psystem.System, id psystem.MembraneID, next *psystem.MembraneID) (string, error) {
	if id != *next {
		return "", fmt.Errorf("membrane %d is not numbered in preorder (expected id %d)", id, *next)
	}
	*next++

	m, _ := sys.Membrane(id)
	if m.IsElementary() {
		return fmt.Sprintf("[ ]'%d", m.Label), nil
	}

	parts := make([]string, 0, len(m.Children))
	for _, child := range m.Children {
		s, err := formatStructure(sys, child, next)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return fmt.Sprintf("[%s]'%d", strings.Join(parts, " "), m.Label), nil
}

func formatRule(r psystem.Rule) (string, error) {
	if r.Priority != 0 {
		return "", fmt.Errorf("priority %d cannot be expressed", r.Priority)
	}
	lhs, err := formatMultiset(r.LHS)
	if err != nil {
		return "", err
	}
	rhs, err := formatMultiset(r.RHS)
	if err != nil {
		return "", err
	}

	var out string
	dissolve := r.Dissolve
	switch r.Target.Kind {
	case psystem.TargetHere:
		switch {
		case r.RHS.IsEmpty() && dissolve:
			out = fmt.Sprintf("[ ]'%d", r.Label)
			dissolve = false
		case r.RHS.IsEmpty():
			// an empty bracket means dissolution; sending nothing out is equivalent
			out = "( , out)"
		default:
			out = fmt.Sprintf("[%s]'%d", rhs, r.Label)
		}
	case psystem.TargetParent:
		out = fmt.Sprintf("(%s, out)", rhs)
	case psystem.TargetChildLabel:
		out = fmt.Sprintf("(%s, in'%d)", rhs, r.Target.Ref)
	default:
		return "", fmt.Errorf("target %s cannot be expressed", r.Target)
	}
	if dissolve {
		out += " []"
	}
	return fmt.Sprintf("[%s]'%d --> %s;", lhs, r.Label, out), nil
}

func formatMultiset(m psystem.Multiset) (string, error) {
	objs := m.Objects()
	terms := make([]string, 0, len(objs))
	for _, obj := range objs {
		if err := checkIdent(string(obj)); err != nil {
			return "", fmt.Errorf("object: %w", err)
		}
		if n := m.Count(obj); n > 1 {
			terms = append(terms, fmt.Sprintf("%s{%d}", obj, n))
		} else {
			terms = append(terms, string(obj))
		}
	}
	return strings.Join(terms, ", "), nil
}

func checkIdent(s string) error {
	toks := Tokenize(s)
	if len(toks) != 2 || toks[0].Type != TokenIdentifier || toks[0].Literal != s {
		return fmt.Errorf("%q is not an identifier", s)
	}
	return nil
}
