package psystem

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DissolutionPolicy decides what happens to the children of a dissolved
// membrane.
type DissolutionPolicy int

const (
	// KeepChildren leaves children attached to their dissolved parent.
	// Objects they send out land in the dissolved membrane, where no rule
	// ever touches them again, and the dissolved parent can no longer send
	// objects in.
	KeepChildren DissolutionPolicy = iota
	// ReparentChildren makes the nearest active ancestor act as the parent
	// of a dissolved membrane's children, for communication and for later
	// dissolutions.
	ReparentChildren
)

// String returns the string representation of the policy
func (p DissolutionPolicy) String() string {
	switch p {
	case KeepChildren:
		return "keep"
	case ReparentChildren:
		return "reparent"
	default:
		return "unknown"
	}
}

// ParseDissolutionPolicy parses "keep" or "reparent" (case-insensitive).
func ParseDissolutionPolicy(s string) (DissolutionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return KeepChildren, nil
	case "reparent":
		return ReparentChildren, nil
	default:
		return KeepChildren, fmt.Errorf("unknown dissolution policy %q (want keep or reparent)", s)
	}
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithDissolutionPolicy selects how children of dissolved membranes are
// treated. The default is KeepChildren.
func WithDissolutionPolicy(p DissolutionPolicy) Option {
	return func(s *Simulator) { s.policy = p }
}

// WithWorkers fans the per-membrane rule selection out over n goroutines.
// The commit phase stays sequential, so results do not depend on n.
func WithWorkers(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger injects a logger.
func WithLogger(l Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}

// Simulator evolves configurations of a System under maximal parallelism.
//
// Each step every active membrane selects its rule applications against the
// start-of-step configuration; outputs are buffered and only merged once
// every membrane has decided. Within a membrane, only the highest priority
// tier holding an applicable rule is eligible. Competing rules are resolved
// greedily: passes over the eligible rules in declaration order fire each
// still-applicable rule once, until a pass fires nothing.
type Simulator struct {
	system  *System
	policy  DissolutionPolicy
	workers int
	logger  Logger
}

// NewSimulator creates a simulator for sys.
func NewSimulator(sys *System, opts ...Option) *Simulator {
	s := &Simulator{
		system:  sys,
		policy:  KeepChildren,
		workers: 1,
		logger:  NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// System returns the simulated system.
func (s *Simulator) System() *System { return s.system }

// Policy returns the dissolution policy in use.
func (s *Simulator) Policy() DissolutionPolicy { return s.policy }

// RuleFiring records how many instances of a rule fired in a membrane
// during one step.
type RuleFiring struct {
	Membrane MembraneID `json:"membrane"`
	Rule     int        `json:"rule"`
	Count    int        `json:"count"`
}

// StepReport describes what happened during one step.
type StepReport struct {
	Step      int          `json:"step"`
	Firings   []RuleFiring `json:"firings,omitempty"`
	Dissolved []MembraneID `json:"dissolved,omitempty"`
	Discarded Multiset     `json:"discarded"`
	// Saturated lists the active membranes holding an object whose count
	// reached MaxCount after this step.
	Saturated []MembraneID `json:"saturated,omitempty"`
}

// Fired returns the total number of rule instances applied.
func (r StepReport) Fired() int {
	total := 0
	for _, f := range r.Firings {
		total = addCount(total, f.Count)
	}
	return total
}

// SimulationResult is the outcome of running a simulation.
type SimulationResult struct {
	Trace  []Configuration `json:"trace,omitempty"`
	Final  Configuration   `json:"final_config"`
	Steps  int             `json:"steps"`
	Halted bool            `json:"halted"`
}

// Simulate runs sys from its initial configuration for at most maxSteps
// steps, keeping every configuration when trace is set.
func Simulate(sys *System, maxSteps int, trace bool) SimulationResult {
	return NewSimulator(sys).Run(NewConfiguration(sys), maxSteps, trace)
}

// Run evolves cfg until it halts or maxSteps steps have been taken.
// Halting is checked before each step, so a configuration that is halted
// when the budget runs out is still reported as halted.
func (s *Simulator) Run(cfg Configuration, maxSteps int, trace bool) SimulationResult {
	result := SimulationResult{}
	if trace {
		result.Trace = append(result.Trace, cfg)
	}

	current := cfg
	steps := 0
	for {
		if s.IsHalted(current) {
			result.Halted = true
			break
		}
		if steps >= maxSteps {
			break
		}
		current = s.Step(current)
		steps++
		if trace {
			result.Trace = append(result.Trace, current)
		}
	}

	result.Final = current
	result.Steps = steps
	s.logger.Debugf("simulation finished: system=%s steps=%d halted=%t", s.system.name, steps, result.Halted)
	return result
}

// Step computes the next configuration. A halted configuration yields a
// copy of itself with the step counter advanced.
func (s *Simulator) Step(cfg Configuration) Configuration {
	next, _ := s.StepWithReport(cfg)
	return next
}

// candidate is a rule usable in a membrane this step, with its target
// already resolved.
type candidate struct {
	index int
	rule  Rule
	dest  MembraneID
}

type delivery struct {
	to   MembraneID
	objs Multiset
}

type decision struct {
	id         MembraneID
	leftover   Multiset
	firings    []RuleFiring
	deliveries []delivery
	dissolve   bool
}

// StepWithReport computes the next configuration and reports the rule
// instances that fired and the membranes that dissolved.
func (s *Simulator) StepWithReport(cfg Configuration) (Configuration, StepReport) {
	active := cfg.ActiveIDs()

	// 1) decide: every active membrane reads only the start-of-step snapshot
	decisions := make([]decision, len(active))
	s.decideAll(cfg, active, decisions)

	// 2) commit: merge buffered outputs into the next configuration
	pending := make(map[MembraneID]Multiset, len(cfg.multisets))
	for id, m := range cfg.multisets {
		if !cfg.active[id] {
			pending[id] = m
		}
	}
	nextActive := make(map[MembraneID]bool, len(cfg.active))
	for id, ok := range cfg.active {
		nextActive[id] = ok
	}

	report := StepReport{Step: cfg.step + 1}
	var dissolving []MembraneID
	for _, d := range decisions {
		pending[d.id] = pending[d.id].Union(d.leftover)
		report.Firings = append(report.Firings, d.firings...)
		if d.dissolve {
			dissolving = append(dissolving, d.id)
		}
	}
	for _, d := range decisions {
		for _, out := range d.deliveries {
			if out.to == NoMembrane {
				report.Discarded = report.Discarded.Union(out.objs)
				continue
			}
			pending[out.to] = pending[out.to].Union(out.objs)
		}
	}

	// 3) dissolve deepest membranes first so contents cascade upward
	sort.Slice(dissolving, func(i, j int) bool {
		di, dj := s.system.depth[dissolving[i]], s.system.depth[dissolving[j]]
		if di != dj {
			return di > dj
		}
		return dissolving[i] < dissolving[j]
	})
	for _, id := range dissolving {
		to := s.dissolveInto(cfg, id)
		pending[to] = pending[to].Union(pending[id])
		pending[id] = Multiset{}
		nextActive[id] = false
		s.logger.Debugf("membrane dissolved: system=%s membrane=%d into=%d step=%d", s.system.name, id, to, report.Step)
	}
	report.Dissolved = dissolving

	if !report.Discarded.IsEmpty() {
		s.logger.Debugf("objects left the system: system=%s objects=%s step=%d", s.system.name, report.Discarded, report.Step)
	}

	for _, id := range active {
		if !nextActive[id] {
			continue
		}
		if objs := pending[id].Saturated(); len(objs) > 0 {
			report.Saturated = append(report.Saturated, id)
			s.logger.Warnf("object count saturated: system=%s membrane=%d objects=%v step=%d", s.system.name, id, objs, report.Step)
		}
	}

	return Configuration{multisets: pending, active: nextActive, step: cfg.step + 1}, report
}

// decideAll fills decisions for the given active membranes, possibly in
// parallel. Each worker only writes its own slots.
func (s *Simulator) decideAll(cfg Configuration, active []MembraneID, decisions []decision) {
	workers := s.workers
	if workers > len(active) {
		workers = len(active)
	}
	if workers <= 1 {
		for i, id := range active {
			decisions[i] = s.decide(cfg, id)
		}
		return
	}

	size := len(active) / workers
	rem := len(active) % workers
	var wg sync.WaitGroup
	for w, cursor := 0, 0; w < workers; w++ {
		n := size
		if w < rem {
			n++
		}
		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			for i := from; i < to; i++ {
				decisions[i] = s.decide(cfg, active[i])
			}
		}(cursor, cursor+n)
		cursor += n
	}
	wg.Wait()
}

// decide selects the rule applications of one membrane.
func (s *Simulator) decide(cfg Configuration, id MembraneID) decision {
	remaining := cfg.multisets[id]
	d := decision{id: id}

	eligible := s.eligible(cfg, id)
	if len(eligible) == 0 {
		d.leftover = remaining
		return d
	}

	counts := make([]int, len(eligible))
	applicable := make([]int, 0, len(eligible))
	for {
		applicable = applicable[:0]
		var lhs Multiset
		for i, c := range eligible {
			if c.rule.LHS.SubsetOf(remaining) {
				applicable = append(applicable, i)
				lhs = lhs.Union(c.rule.LHS)
			}
		}
		if len(applicable) == 0 {
			break
		}

		// k identical passes where every applicable rule fires once
		if k := remaining.Times(lhs); k > 0 {
			for _, i := range applicable {
				counts[i] += k
			}
			remaining, _ = remaining.Difference(lhs.Scale(k))
			continue
		}

		// rules compete for objects within this pass
		for _, i := range applicable {
			if rest, ok := remaining.Difference(eligible[i].rule.LHS); ok {
				remaining = rest
				counts[i]++
			}
		}
	}

	d.leftover = remaining
	for i, c := range eligible {
		if counts[i] == 0 {
			continue
		}
		d.firings = append(d.firings, RuleFiring{Membrane: id, Rule: c.index, Count: counts[i]})
		if out := c.rule.RHS.Scale(counts[i]); !out.IsEmpty() {
			d.deliveries = append(d.deliveries, delivery{to: c.dest, objs: out})
		}
		if c.rule.Dissolve {
			d.dissolve = true
		}
	}
	return d
}

// eligible returns, in declaration order, the rules of the highest
// priority tier that has at least one applicable rule in membrane id.
func (s *Simulator) eligible(cfg Configuration, id MembraneID) []candidate {
	mem := s.system.membranes[id]
	current := cfg.multisets[id]

	var usable []candidate
	best, found := 0, false
	for _, idx := range s.system.rulesFor(mem.Label) {
		r := s.system.rules[idx]
		dest, ok := s.resolveTarget(cfg, mem, r.Target)
		if !ok {
			continue
		}
		usable = append(usable, candidate{index: idx, rule: r, dest: dest})
		if r.Applicable(current) && (!found || r.Priority > best) {
			best, found = r.Priority, true
		}
	}
	if !found {
		return nil
	}

	out := usable[:0]
	for _, c := range usable {
		if c.rule.Priority == best {
			out = append(out, c)
		}
	}
	return out
}

// IsHalted reports whether no active membrane has an applicable rule.
func (s *Simulator) IsHalted(cfg Configuration) bool {
	for _, id := range cfg.ActiveIDs() {
		mem, ok := s.system.membranes[id]
		if !ok {
			continue
		}
		current := cfg.multisets[id]
		for _, idx := range s.system.rulesFor(mem.Label) {
			r := s.system.rules[idx]
			if !r.Applicable(current) {
				continue
			}
			if _, ok := s.resolveTarget(cfg, mem, r.Target); ok {
				return false
			}
		}
	}
	return true
}

// resolveTarget returns the membrane receiving a rule's output. NoMembrane
// with ok=true means the objects leave the system. ok=false means the
// target does not exist this step and the rule cannot fire.
func (s *Simulator) resolveTarget(cfg Configuration, mem Membrane, t Target) (MembraneID, bool) {
	switch t.Kind {
	case TargetHere:
		return mem.ID, true
	case TargetParent:
		return s.parentOf(cfg, mem.ID), true
	case TargetChildID, TargetChildLabel:
		for _, child := range s.childrenOf(cfg, mem.ID) {
			if !cfg.active[child] {
				continue
			}
			if t.Kind == TargetChildID && int(child) == t.Ref {
				return child, true
			}
			if t.Kind == TargetChildLabel && int(s.system.membranes[child].Label) == t.Ref {
				return child, true
			}
		}
		return NoMembrane, false
	default:
		return NoMembrane, false
	}
}

// parentOf returns the membrane acting as parent of id under the policy.
func (s *Simulator) parentOf(cfg Configuration, id MembraneID) MembraneID {
	parent := s.system.membranes[id].Parent
	if s.policy != ReparentChildren {
		return parent
	}
	for parent != NoMembrane && !cfg.active[parent] {
		parent = s.system.membranes[parent].Parent
	}
	return parent
}

// childrenOf returns the membranes acting as children of id under the
// policy, in declaration order.
func (s *Simulator) childrenOf(cfg Configuration, id MembraneID) []MembraneID {
	children := s.system.membranes[id].Children
	if s.policy != ReparentChildren {
		return children
	}
	var out []MembraneID
	for _, child := range children {
		if cfg.active[child] {
			out = append(out, child)
			continue
		}
		out = append(out, s.childrenOf(cfg, child)...)
	}
	return out
}

// dissolveInto returns where the contents of a dissolving membrane go.
// Under KeepChildren it is always the structural parent; under
// ReparentChildren the nearest ancestor active at the start of the step.
func (s *Simulator) dissolveInto(cfg Configuration, id MembraneID) MembraneID {
	return s.parentOf(cfg, id)
}
