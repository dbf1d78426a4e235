package psystem

import (
	"fmt"
	"sort"
)

// System is the static definition of a P system: membrane tree, alphabet,
// initial multisets and rules. A System is immutable once built and safe to
// share between goroutines.
type System struct {
	name      string
	model     string
	membranes map[MembraneID]Membrane
	order     []MembraneID
	depth     map[MembraneID]int
	skin      MembraneID
	alphabet  map[Object]struct{}
	initial   map[MembraneID]Multiset
	rules     []Rule
	byLabel   map[Label][]int
}

// Name returns the system name.
func (s *System) Name() string { return s.name }

// Model returns the advisory model-type tag (e.g. "transition").
func (s *System) Model() string { return s.model }

// Skin returns the id of the skin membrane.
func (s *System) Skin() MembraneID { return s.skin }

// Membrane retrieves a membrane by id.
func (s *System) Membrane(id MembraneID) (Membrane, bool) {
	m, ok := s.membranes[id]
	if !ok {
		return Membrane{}, false
	}
	return m.clone(), true
}

// MembraneIDs returns every membrane id in ascending order.
func (s *System) MembraneIDs() []MembraneID {
	return append([]MembraneID(nil), s.order...)
}

// Membranes returns every membrane in ascending id order.
func (s *System) Membranes() []Membrane {
	out := make([]Membrane, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.membranes[id].clone())
	}
	return out
}

// Depth returns the distance of a membrane from the skin (skin = 0).
func (s *System) Depth(id MembraneID) int {
	return s.depth[id]
}

// Alphabet returns every known object, sorted.
func (s *System) Alphabet() []Object {
	out := make([]Object, 0, len(s.alphabet))
	for obj := range s.alphabet {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// InAlphabet reports whether obj belongs to the alphabet.
func (s *System) InAlphabet(obj Object) bool {
	_, ok := s.alphabet[obj]
	return ok
}

// Initial returns the initial multiset of a membrane (empty if none).
func (s *System) Initial(id MembraneID) Multiset {
	return s.initial[id]
}

// Rules returns the rules in declaration order.
func (s *System) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Rule returns the rule at the given declaration index.
func (s *System) Rule(i int) Rule {
	return s.rules[i]
}

// rulesFor returns the declaration indexes of the rules scoped to a label.
func (s *System) rulesFor(l Label) []int {
	return s.byLabel[l]
}

// SystemBuilder assembles a System from membranes, multisets and rules
// without going through the DSL. Build validates the whole definition at
// once.
type SystemBuilder struct {
	name      string
	model     string
	membranes []Membrane
	initial   map[MembraneID]Multiset
	alphabet  map[Object]struct{}
	rules     []Rule
}

// NewSystemBuilder creates a builder for a system with the given name.
func NewSystemBuilder(name string) *SystemBuilder {
	return &SystemBuilder{
		name:     name,
		initial:  make(map[MembraneID]Multiset),
		alphabet: make(map[Object]struct{}),
		rules:    make([]Rule, 0),
	}
}

// WithModel records the advisory model-type tag.
func (b *SystemBuilder) WithModel(model string) *SystemBuilder {
	b.model = model
	return b
}

// WithMembrane declares a membrane. Use NoMembrane as parent for the skin.
// Children are ordered by declaration.
func (b *SystemBuilder) WithMembrane(id MembraneID, label Label, parent MembraneID) *SystemBuilder {
	b.membranes = append(b.membranes, Membrane{ID: id, Label: label, Parent: parent})
	return b
}

// WithInitial adds objects to the initial multiset of a membrane. Repeated
// calls for the same membrane accumulate.
func (b *SystemBuilder) WithInitial(id MembraneID, m Multiset) *SystemBuilder {
	b.initial[id] = b.initial[id].Union(m)
	return b
}

// WithAlphabet declares extra alphabet objects. Objects used by initial
// multisets and rules are added automatically.
func (b *SystemBuilder) WithAlphabet(objs ...Object) *SystemBuilder {
	for _, obj := range objs {
		b.alphabet[obj] = struct{}{}
	}
	return b
}

// WithRules appends rules in declaration order.
func (b *SystemBuilder) WithRules(rules ...Rule) *SystemBuilder {
	b.rules = append(b.rules, rules...)
	return b
}

// Build validates the definition and returns the System, or a *BuildError
// listing every problem found.
func (b *SystemBuilder) Build() (*System, error) {
	berr := &BuildError{System: b.name}

	membranes := make(map[MembraneID]Membrane, len(b.membranes))
	declared := make([]MembraneID, 0, len(b.membranes))
	for _, m := range b.membranes {
		if m.ID <= 0 {
			berr.addf("membrane id must be positive, got %d", m.ID)
			continue
		}
		if _, dup := membranes[m.ID]; dup {
			berr.addf("duplicate membrane id %d", m.ID)
			continue
		}
		membranes[m.ID] = Membrane{ID: m.ID, Label: m.Label, Parent: m.Parent}
		declared = append(declared, m.ID)
	}
	if len(membranes) == 0 {
		berr.addf("system has no membranes")
		return nil, berr
	}

	// link children in declaration order and find the skin
	skin := NoMembrane
	for _, id := range declared {
		m := membranes[id]
		if m.Parent == NoMembrane {
			if skin != NoMembrane {
				berr.addf("membranes %d and %d both lack a parent: exactly one skin is allowed", skin, id)
				continue
			}
			skin = id
			continue
		}
		if m.Parent == id {
			berr.addf("membrane %d is its own parent", id)
			continue
		}
		parent, ok := membranes[m.Parent]
		if !ok {
			berr.addf("membrane %d has unknown parent %d", id, m.Parent)
			continue
		}
		parent.Children = append(parent.Children, id)
		membranes[m.Parent] = parent
	}
	if skin == NoMembrane {
		berr.addf("no skin membrane: exactly one membrane must have no parent")
	}

	// every membrane must hang off the skin; anything else sits on a cycle
	depth := make(map[MembraneID]int, len(membranes))
	if skin != NoMembrane {
		queue := []MembraneID{skin}
		depth[skin] = 0
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			for _, child := range membranes[id].Children {
				if _, seen := depth[child]; seen {
					continue
				}
				depth[child] = depth[id] + 1
				queue = append(queue, child)
			}
		}
		for _, id := range declared {
			if _, ok := depth[id]; !ok {
				berr.addf("membrane %d is not reachable from the skin", id)
			}
		}
	}

	alphabet := make(map[Object]struct{}, len(b.alphabet))
	for obj := range b.alphabet {
		alphabet[obj] = struct{}{}
	}
	addObjects := func(m Multiset) {
		for _, obj := range m.Objects() {
			alphabet[obj] = struct{}{}
		}
	}

	initial := make(map[MembraneID]Multiset, len(b.initial))
	for id, m := range b.initial {
		if _, ok := membranes[id]; !ok {
			berr.addf("initial multiset given for unknown membrane %d", id)
			continue
		}
		initial[id] = m
		addObjects(m)
	}

	byLabel := make(map[Label][]MembraneID)
	for _, id := range declared {
		byLabel[membranes[id].Label] = append(byLabel[membranes[id].Label], id)
	}

	rules := make([]Rule, len(b.rules))
	ruleIndex := make(map[Label][]int)
	for i, r := range b.rules {
		rules[i] = r
		ruleIndex[r.Label] = append(ruleIndex[r.Label], i)
		addObjects(r.LHS)
		addObjects(r.RHS)

		name := ruleName(r, i)
		if r.LHS.IsEmpty() {
			berr.addf("%s: left-hand side must not be empty", name)
		}
		if r.Dissolve && skin != NoMembrane && membranes[skin].Label == r.Label {
			berr.addf("%s: the skin membrane (label %d) cannot dissolve", name, r.Label)
		}
		switch r.Target.Kind {
		case TargetHere, TargetParent:
		case TargetChildLabel, TargetChildID:
			for _, id := range byLabel[r.Label] {
				if !hasChild(membranes, membranes[id], r.Target) {
					berr.addf("%s: target %s is not a child of membrane %d", name, r.Target, id)
				}
			}
		default:
			berr.addf("%s: unknown target kind %d", name, r.Target.Kind)
		}
	}

	if len(berr.Issues) > 0 {
		return nil, berr
	}

	order := make([]MembraneID, 0, len(membranes))
	for id := range membranes {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	return &System{
		name:      b.name,
		model:     b.model,
		membranes: membranes,
		order:     order,
		depth:     depth,
		skin:      skin,
		alphabet:  alphabet,
		initial:   initial,
		rules:     rules,
		byLabel:   ruleIndex,
	}, nil
}

func hasChild(membranes map[MembraneID]Membrane, m Membrane, t Target) bool {
	for _, child := range m.Children {
		switch t.Kind {
		case TargetChildID:
			if int(child) == t.Ref {
				return true
			}
		case TargetChildLabel:
			if int(membranes[child].Label) == t.Ref {
				return true
			}
		}
	}
	return false
}

func ruleName(r Rule, i int) string {
	if r.Name != "" {
		return "rule '" + r.Name + "'"
	}
	return fmt.Sprintf("rule at index %d", i)
}
