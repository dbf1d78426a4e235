package psystem

// MembraneID uniquely identifies a membrane inside a System. Valid ids are
// positive; 0 means "no membrane" (the skin's parent).
type MembraneID int

// Label is the rule-matching key of a membrane. Labels need not be unique.
type Label int

// NoMembrane is the parent of the skin membrane.
const NoMembrane MembraneID = 0

// Membrane is a node of the structural tree. Parent and children are stored
// as ids into the System's membrane arena, never as pointers.
type Membrane struct {
	ID       MembraneID
	Label    Label
	Parent   MembraneID
	Children []MembraneID
}

// IsSkin reports whether the membrane is the root of the tree.
func (m Membrane) IsSkin() bool {
	return m.Parent == NoMembrane
}

// IsElementary reports whether the membrane has no children.
func (m Membrane) IsElementary() bool {
	return len(m.Children) == 0
}

func (m Membrane) clone() Membrane {
	out := m
	out.Children = append([]MembraneID(nil), m.Children...)
	return out
}
