package main

import "github.com/daniacca/membranedb/internal/psystem"

// scenario is a system built in code together with the step budget it is
// demonstrated with.
type scenario struct {
	name     string
	about    string
	maxSteps int
	build    func() (*psystem.System, error)
}

func scenarios() []scenario {
	return []scenario{
		{"send-out", "an inner membrane expels its products to the skin", 10, sendOutSystem},
		{"release", "dissolving a membrane releases its objects into the parent", 10, releaseSystem},
		{"rotate", "three rules feeding each other grow every object count", 6, rotateSystem},
		{"priority", "a higher tier starves a lower one while it can fire", 10, prioritySystem},
		{"courier", "objects travel down by label and back up through the skin", 10, courierSystem},
	}
}

func sendOutSystem() (*psystem.System, error) {
	return psystem.NewSystemBuilder("send-out").
		WithModel("transition").
		WithMembrane(1, 1, psystem.NoMembrane).
		WithMembrane(2, 2, 1).
		WithInitial(1, psystem.MultisetOf("a", "a", "a")).
		WithInitial(2, psystem.MultisetOf("b", "b")).
		WithRules(
			psystem.NewRule(1, psystem.MultisetOf("a"), psystem.MultisetOf("c")),
			psystem.NewRule(2, psystem.MultisetOf("b"), psystem.MultisetOf("d")).To(psystem.ToParent()),
		).
		Build()
}

func releaseSystem() (*psystem.System, error) {
	return psystem.NewSystemBuilder("release").
		WithModel("transition").
		WithMembrane(1, 1, psystem.NoMembrane).
		WithMembrane(2, 2, 1).
		WithInitial(1, psystem.NewMultiset(map[psystem.Object]int{"resource": 5})).
		WithInitial(2, psystem.NewMultiset(map[psystem.Object]int{"trigger": 1, "resource": 3})).
		WithRules(
			psystem.NewRule(1, psystem.MultisetOf("resource"), psystem.MultisetOf("product")),
			psystem.NewRule(2, psystem.MultisetOf("trigger"), psystem.MultisetOf("product", "product")).Dissolving(),
		).
		Build()
}

func rotateSystem() (*psystem.System, error) {
	return psystem.NewSystemBuilder("rotate").
		WithMembrane(1, 1, psystem.NoMembrane).
		WithInitial(1, psystem.MultisetOf("a")).
		WithRules(
			psystem.NewRule(1, psystem.MultisetOf("a"), psystem.MultisetOf("a", "b")),
			psystem.NewRule(1, psystem.MultisetOf("b"), psystem.MultisetOf("b", "c")),
			psystem.NewRule(1, psystem.MultisetOf("c"), psystem.MultisetOf("c", "a")),
		).
		Build()
}

func prioritySystem() (*psystem.System, error) {
	return psystem.NewSystemBuilder("priority").
		WithMembrane(1, 1, psystem.NoMembrane).
		WithInitial(1, psystem.NewMultiset(map[psystem.Object]int{"x": 2, "fuel": 3})).
		WithRules(
			psystem.NewRule(1, psystem.MultisetOf("x", "fuel"), psystem.MultisetOf("hot")).WithPriority(1),
			psystem.NewRule(1, psystem.MultisetOf("x"), psystem.MultisetOf("cold")),
		).
		Build()
}

func courierSystem() (*psystem.System, error) {
	return psystem.NewSystemBuilder("courier").
		WithMembrane(1, 1, psystem.NoMembrane).
		WithMembrane(2, 2, 1).
		WithMembrane(3, 3, 2).
		WithInitial(1, psystem.MultisetOf("parcel", "parcel")).
		WithRules(
			psystem.NewRule(1, psystem.MultisetOf("parcel"), psystem.MultisetOf("parcel")).To(psystem.ToChildLabel(2)),
			psystem.NewRule(2, psystem.MultisetOf("parcel"), psystem.MultisetOf("sealed")).To(psystem.ToChildLabel(3)),
			psystem.NewRule(3, psystem.MultisetOf("sealed"), psystem.MultisetOf("receipt")).To(psystem.ToParent()),
			psystem.NewRule(2, psystem.MultisetOf("receipt"), psystem.MultisetOf("receipt")).To(psystem.ToParent()),
		).
		Build()
}
