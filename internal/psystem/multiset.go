package psystem

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// MaxCount is the largest multiplicity a Multiset stores. Union, Scale and
// Size saturate at MaxCount instead of wrapping around.
const MaxCount = math.MaxInt

func addCount(a, b int) int {
	if a > MaxCount-b {
		return MaxCount
	}
	return a + b
}

func mulCount(a, b int) int {
	if a != 0 && b > MaxCount/a {
		return MaxCount
	}
	return a * b
}

// Object is the name of a symbol living inside a membrane.
type Object string

// Multiset is a bag of objects with positive multiplicities.
// Values are never mutated in place: every operation returns a new Multiset,
// so a Multiset can be shared freely between configurations.
// Entries with a count <= 0 are never stored.
type Multiset struct {
	counts map[Object]int
}

// EmptyMultiset returns the multiset with no objects.
func EmptyMultiset() Multiset {
	return Multiset{}
}

// NewMultiset builds a multiset from a count map. Counts <= 0 are dropped.
func NewMultiset(counts map[Object]int) Multiset {
	out := make(map[Object]int, len(counts))
	for obj, n := range counts {
		if n > 0 {
			out[obj] = n
		}
	}
	return Multiset{counts: out}
}

// MultisetOf builds a multiset from a list of objects; repeated objects
// accumulate, so MultisetOf("a", "a", "b") is {a:2, b:1}.
func MultisetOf(objs ...Object) Multiset {
	out := make(map[Object]int, len(objs))
	for _, obj := range objs {
		out[obj]++
	}
	return Multiset{counts: out}
}

// Count returns the multiplicity of obj, 0 if absent.
func (m Multiset) Count(obj Object) int {
	return m.counts[obj]
}

// Size returns the sum of all multiplicities.
func (m Multiset) Size() int {
	total := 0
	for _, n := range m.counts {
		total = addCount(total, n)
	}
	return total
}

// Len returns the number of distinct objects.
func (m Multiset) Len() int {
	return len(m.counts)
}

// IsEmpty reports whether the multiset holds no objects.
func (m Multiset) IsEmpty() bool {
	return len(m.counts) == 0
}

// Union adds the counts of both multisets, saturating at MaxCount.
func (m Multiset) Union(other Multiset) Multiset {
	if other.IsEmpty() {
		return m
	}
	if m.IsEmpty() {
		return other
	}
	out := make(map[Object]int, len(m.counts)+len(other.counts))
	for obj, n := range m.counts {
		out[obj] = n
	}
	for obj, n := range other.counts {
		out[obj] = addCount(out[obj], n)
	}
	return Multiset{counts: out}
}

// Difference subtracts other from m. It returns false, and an empty
// multiset, when other is not a subset of m: counts never go negative.
func (m Multiset) Difference(other Multiset) (Multiset, bool) {
	if !other.SubsetOf(m) {
		return Multiset{}, false
	}
	if other.IsEmpty() {
		return m, true
	}
	out := make(map[Object]int, len(m.counts))
	for obj, n := range m.counts {
		if left := n - other.counts[obj]; left > 0 {
			out[obj] = left
		}
	}
	return Multiset{counts: out}, true
}

// SubsetOf reports whether every count in m is <= the matching count in
// other, treating absent objects as 0.
func (m Multiset) SubsetOf(other Multiset) bool {
	for obj, n := range m.counts {
		if other.counts[obj] < n {
			return false
		}
	}
	return true
}

// Scale multiplies every count by n, saturating at MaxCount. Scaling by 0
// (or a negative factor) yields the empty multiset.
func (m Multiset) Scale(n int) Multiset {
	if n <= 0 || m.IsEmpty() {
		return Multiset{}
	}
	if n == 1 {
		return m
	}
	out := make(map[Object]int, len(m.counts))
	for obj, c := range m.counts {
		out[obj] = mulCount(c, n)
	}
	return Multiset{counts: out}
}

// Times returns how many disjoint copies of other fit in m.
// The empty multiset fits an unbounded number of times; -1 is returned in
// that case.
func (m Multiset) Times(other Multiset) int {
	if other.IsEmpty() {
		return -1
	}
	times := -1
	for obj, need := range other.counts {
		k := m.counts[obj] / need
		if times < 0 || k < times {
			times = k
		}
		if times == 0 {
			return 0
		}
	}
	return times
}

// Saturated returns the objects whose count reached MaxCount, sorted.
func (m Multiset) Saturated() []Object {
	var out []Object
	for obj, n := range m.counts {
		if n == MaxCount {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether both multisets hold the same objects with the same
// counts.
func (m Multiset) Equal(other Multiset) bool {
	if len(m.counts) != len(other.counts) {
		return false
	}
	for obj, n := range m.counts {
		if other.counts[obj] != n {
			return false
		}
	}
	return true
}

// Objects returns the distinct objects sorted lexicographically.
func (m Multiset) Objects() []Object {
	out := make([]Object, 0, len(m.counts))
	for obj := range m.counts {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Map returns a copy of the underlying counts.
func (m Multiset) Map() map[Object]int {
	out := make(map[Object]int, len(m.counts))
	for obj, n := range m.counts {
		out[obj] = n
	}
	return out
}

// String renders the multiset in the DSL literal notation, sorted by
// object name: "a{2}, b". The empty multiset renders as "".
func (m Multiset) String() string {
	var b strings.Builder
	for i, obj := range m.Objects() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(obj))
		if n := m.counts[obj]; n != 1 {
			fmt.Fprintf(&b, "{%d}", n)
		}
	}
	return b.String()
}

// MarshalJSON encodes the multiset as an object map, e.g. {"a":2,"b":1}.
func (m Multiset) MarshalJSON() ([]byte, error) {
	raw := make(map[string]int, len(m.counts))
	for obj, n := range m.counts {
		raw[string(obj)] = n
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes an object map, rejecting negative counts.
func (m *Multiset) UnmarshalJSON(data []byte) error {
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	counts := make(map[Object]int, len(raw))
	for obj, n := range raw {
		if n < 0 {
			return fmt.Errorf("negative multiplicity %d for object %q", n, obj)
		}
		if n > 0 {
			counts[Object(obj)] = n
		}
	}
	m.counts = counts
	return nil
}
