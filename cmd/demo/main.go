// Command demo builds a handful of P systems in code, without the DSL, and
// prints how each one evolves.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/daniacca/membranedb/internal/psystem"
)

func main() {
	only := flag.String("scenario", "", "run only the named scenario")
	policy := flag.String("dissolution", "keep", "children of dissolved membranes: keep or reparent")
	flag.Parse()

	p, err := psystem.ParseDissolutionPolicy(*policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := runScenarios(os.Stdout, *only, p); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runScenarios(w io.Writer, only string, policy psystem.DissolutionPolicy) error {
	found := false
	for _, sc := range scenarios() {
		if only != "" && sc.name != only {
			continue
		}
		found = true

		sys, err := sc.build()
		if err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}
		sim := psystem.NewSimulator(sys, psystem.WithDissolutionPolicy(policy))
		result := sim.Run(psystem.NewConfiguration(sys), sc.maxSteps, true)

		fmt.Fprintf(w, "== %s: %s\n", sc.name, sc.about)
		for _, cfg := range result.Trace {
			fmt.Fprintf(w, "  %s\n", cfg)
		}
		fmt.Fprintf(w, "  steps=%d halted=%t\n\n", result.Steps, result.Halted)
	}
	if !found {
		return fmt.Errorf("unknown scenario %q", only)
	}
	return nil
}
