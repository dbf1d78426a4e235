package psystem

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Configuration is the dynamic state of a simulation at one step: the
// multiset held by each membrane and the set of active (non-dissolved)
// membranes. A Configuration is never modified once produced; the simulator
// always builds a new one, so traces can keep old values around safely.
type Configuration struct {
	multisets map[MembraneID]Multiset
	active    map[MembraneID]bool
	step      int
}

// NewConfiguration returns the step-0 configuration of a system: every
// membrane active and holding its initial multiset.
func NewConfiguration(sys *System) Configuration {
	multisets := make(map[MembraneID]Multiset, len(sys.order))
	active := make(map[MembraneID]bool, len(sys.order))
	for _, id := range sys.order {
		multisets[id] = sys.initial[id]
		active[id] = true
	}
	return Configuration{multisets: multisets, active: active, step: 0}
}

// Step returns the number of steps taken to reach this configuration.
func (c Configuration) Step() int { return c.step }

// Multiset returns the objects held by a membrane. Dissolved and unknown
// membranes hold the empty multiset.
func (c Configuration) Multiset(id MembraneID) Multiset {
	return c.multisets[id]
}

// IsActive reports whether a membrane still takes part in the computation.
func (c Configuration) IsActive(id MembraneID) bool {
	return c.active[id]
}

// ActiveIDs returns the active membrane ids in ascending order.
func (c Configuration) ActiveIDs() []MembraneID {
	out := make([]MembraneID, 0, len(c.active))
	for id, ok := range c.active {
		if ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MembraneIDs returns every membrane id known to the configuration,
// active or not, in ascending order.
func (c Configuration) MembraneIDs() []MembraneID {
	out := make([]MembraneID, 0, len(c.active))
	for id := range c.active {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether two configurations hold the same multisets, the
// same active set and the same step counter.
func (c Configuration) Equal(other Configuration) bool {
	if c.step != other.step || len(c.active) != len(other.active) {
		return false
	}
	for id, ok := range c.active {
		if other.active[id] != ok {
			return false
		}
		if !c.multisets[id].Equal(other.multisets[id]) {
			return false
		}
	}
	return true
}

// WithObjects returns a copy of the configuration where objects have been
// added to a membrane. This is how external input enters a running system.
// Only active membranes accept objects.
func (c Configuration) WithObjects(id MembraneID, objs Multiset) (Configuration, error) {
	if !c.active[id] {
		if _, known := c.active[id]; !known {
			return c, fmt.Errorf("membrane %d does not exist", id)
		}
		return c, fmt.Errorf("membrane %d is dissolved", id)
	}
	multisets := make(map[MembraneID]Multiset, len(c.multisets))
	for k, v := range c.multisets {
		multisets[k] = v
	}
	multisets[id] = multisets[id].Union(objs)
	return Configuration{multisets: multisets, active: c.active, step: c.step}, nil
}

// String renders the configuration as "step 3: 1[a{2}] 2[b] (3 dissolved)".
func (c Configuration) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d:", c.step)
	for _, id := range c.MembraneIDs() {
		if !c.active[id] {
			fmt.Fprintf(&b, " %d(dissolved)", id)
			continue
		}
		fmt.Fprintf(&b, " %d[%s]", id, c.multisets[id])
	}
	return b.String()
}

type configurationJSON struct {
	Step      int                 `json:"step"`
	Active    []MembraneID        `json:"active"`
	Multisets map[string]Multiset `json:"multisets"`
}

// MarshalJSON encodes the configuration with membrane ids as object keys.
func (c Configuration) MarshalJSON() ([]byte, error) {
	out := configurationJSON{
		Step:      c.step,
		Active:    c.ActiveIDs(),
		Multisets: make(map[string]Multiset, len(c.multisets)),
	}
	for id, m := range c.multisets {
		if m.IsEmpty() && !c.active[id] {
			continue
		}
		out.Multisets[strconv.Itoa(int(id))] = m
	}
	return json.Marshal(out)
}

// GetMultiset returns the multiset held by a membrane in a configuration.
func GetMultiset(c Configuration, id MembraneID) Multiset {
	return c.Multiset(id)
}

// IsActive reports whether a membrane is active in a configuration.
func IsActive(c Configuration, id MembraneID) bool {
	return c.IsActive(id)
}

// IsHalted reports whether no active membrane of c has an applicable rule.
func IsHalted(c Configuration, sys *System) bool {
	return NewSimulator(sys).IsHalted(c)
}
