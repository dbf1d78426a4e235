package plingua

import (
	"strings"
	"testing"

	"github.com/daniacca/membranedb/internal/psystem"
)

func TestFormat_DemoProgram(t *testing.T) {
	sys := mustParse(t, demoProgram)

	out, err := Format(sys)
	if err != nil {
		t.Fatalf("Failed to format: %v", err)
	}

	expected := `@model<transition>

def demo() {
    @mu = [[ ]'2]'1;
    @ms(1) = a{2}, b;
    @ms(2) = c;

    [a]'1 --> [b]'1;
    [a]'2 --> (b, out);
    [trigger]'2 --> [product{2}]'2 [];
}
`
	if out != expected {
		t.Errorf("Unexpected output:\n%s\nexpected:\n%s", out, expected)
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	sys := mustParse(t, `
def nested() {
  @mu = [[[ ]'4]'2 [ ]'3]'1;
  @ms(2) = d{3}, b;
  @ms(4) = c, c;
  [a]'1 --> (x, in'3);
  [b]'2 --> ( , out) [];
  [c]'4 --> [ ]'4;
  [d, d]'2 --> [e]'2;
  [e]'3 --> [ ]'3 [];
}`)

	out, err := Format(sys)
	if err != nil {
		t.Fatalf("Failed to format: %v", err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("Failed to reparse formatted output: %v\n%s", err, out)
	}

	for _, id := range sys.MembraneIDs() {
		a, _ := sys.Membrane(id)
		b, ok := again.Membrane(id)
		if !ok || a.Label != b.Label || a.Parent != b.Parent {
			t.Errorf("membrane %d: expected %+v, got %+v", id, a, b)
		}
		if !sys.Initial(id).Equal(again.Initial(id)) {
			t.Errorf("membrane %d: expected initial %s, got %s", id, sys.Initial(id), again.Initial(id))
		}
	}

	if len(sys.Rules()) != len(again.Rules()) {
		t.Fatalf("Expected %d rules, got %d", len(sys.Rules()), len(again.Rules()))
	}
	for i, a := range sys.Rules() {
		b := again.Rule(i)
		if a.Label != b.Label || a.Target != b.Target || a.Dissolve != b.Dissolve ||
			!a.LHS.Equal(b.LHS) || !a.RHS.Equal(b.RHS) {
			t.Errorf("rule %d: expected %s, got %s", i, a, b)
		}
	}
}

func TestFormat_EmptyRewriteStaysParseable(t *testing.T) {
	sys, err := psystem.NewSystemBuilder("sink").
		WithMembrane(1, 1, psystem.NoMembrane).
		WithMembrane(2, 2, 1).
		WithInitial(2, psystem.MultisetOf("a", "a")).
		WithRules(psystem.NewRule(2, psystem.MultisetOf("a"), psystem.EmptyMultiset())).
		Build()
	if err != nil {
		t.Fatalf("Failed to build: %v", err)
	}

	out, err := Format(sys)
	if err != nil {
		t.Fatalf("Failed to format: %v", err)
	}
	if !strings.Contains(out, "[a]'2 --> ( , out);") {
		t.Errorf("Expected empty rewrite rendered as ( , out), got:\n%s", out)
	}

	again := mustParse(t, out)
	want := psystem.Simulate(sys, 10, false)
	got := psystem.Simulate(again, 10, false)
	if !want.Final.Equal(got.Final) {
		t.Errorf("Expected final %s, got %s", want.Final, got.Final)
	}
}

func TestFormat_Unrepresentable(t *testing.T) {
	base := func() *psystem.SystemBuilder {
		return psystem.NewSystemBuilder("x").
			WithMembrane(1, 1, psystem.NoMembrane).
			WithMembrane(2, 2, 1)
	}

	tests := []struct {
		name    string
		builder *psystem.SystemBuilder
		want    string
	}{
		{
			"priority",
			base().WithRules(psystem.NewRule(1, psystem.MultisetOf("a"), psystem.MultisetOf("b")).WithPriority(2)),
			"priority 2",
		},
		{
			"child by id",
			base().WithRules(psystem.NewRule(1, psystem.MultisetOf("a"), psystem.MultisetOf("b")).To(psystem.ToChildID(2))),
			"cannot be expressed",
		},
		{
			"non-preorder ids",
			psystem.NewSystemBuilder("x").WithMembrane(5, 1, psystem.NoMembrane),
			"preorder",
		},
		{
			"bad object name",
			base().WithInitial(1, psystem.MultisetOf("two words")),
			"not an identifier",
		},
		{
			"keyword object",
			base().WithInitial(1, psystem.MultisetOf("out")),
			"not an identifier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys, err := tt.builder.Build()
			if err != nil {
				t.Fatalf("Failed to build: %v", err)
			}
			_, err = Format(sys)
			if err == nil {
				t.Fatal("Expected format error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}
