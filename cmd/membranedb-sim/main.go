package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/daniacca/membranedb/internal/plingua"
	"github.com/daniacca/membranedb/internal/psystem"
	"github.com/daniacca/membranedb/internal/tracestore"
)

var errUsage = errors.New("usage")

type options struct {
	file        string
	maxSteps    int
	trace       bool
	traceDB     string
	format      string
	dissolution string
	workers     int
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("membranedb-sim", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.file, "file", "", "path to a .pli or JSON system file (required)")
	fs.IntVar(&opts.maxSteps, "max-steps", 100, "maximum number of steps to run")
	fs.BoolVar(&opts.trace, "trace", false, "print every configuration, not just the final one")
	fs.StringVar(&opts.traceDB, "trace-db", "", "optional SQLite file to record the run in")
	fs.StringVar(&opts.format, "format", "text", "output format: text or json")
	fs.StringVar(&opts.dissolution, "dissolution", "keep", "children of dissolved membranes: keep or reparent")
	fs.IntVar(&opts.workers, "workers", 1, "goroutines used to select rules within a step")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if opts.file == "" {
		fmt.Fprintln(stderr, "error: -file is required")
		fs.Usage()
		return errUsage
	}
	if opts.maxSteps < 0 {
		return fmt.Errorf("-max-steps must not be negative")
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", opts.format)
	}
	policy, err := psystem.ParseDissolutionPolicy(opts.dissolution)
	if err != nil {
		return err
	}

	sys, err := loadSystem(opts.file)
	if err != nil {
		return fmt.Errorf("loading system: %w", err)
	}

	sim := psystem.NewSimulator(sys, psystem.WithDissolutionPolicy(policy), psystem.WithWorkers(opts.workers))
	result := sim.Run(psystem.NewConfiguration(sys), opts.maxSteps, opts.trace)

	var runID string
	if opts.traceDB != "" {
		store, err := tracestore.Open(opts.traceDB)
		if err != nil {
			return err
		}
		defer store.Close()
		rec, err := store.Record(ctx, sys, result, tracestore.RecordOptions{
			Policy:   policy,
			MaxSteps: opts.maxSteps,
			Source:   opts.file,
		})
		if err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
		runID = rec.ID
	}

	if opts.format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			System string `json:"system"`
			RunID  string `json:"run_id,omitempty"`
			psystem.SimulationResult
		}{sys.Name(), runID, result})
	}

	printSummary(stdout, sys, result, runID)
	return nil
}

func loadSystem(path string) (*psystem.System, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return plingua.ParseFile(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading system file: %w", err)
	}
	var cfg psystem.SystemConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing system JSON: %w", err)
	}
	return psystem.BuildSystemFromConfig(cfg)
}

func printSummary(w io.Writer, sys *psystem.System, result psystem.SimulationResult, runID string) {
	fmt.Fprintf(w, "Simulation finished (system=%s, steps=%d, halted=%t)\n", sys.Name(), result.Steps, result.Halted)
	if runID != "" {
		fmt.Fprintf(w, "Recorded as run %s\n", runID)
	}

	for _, cfg := range result.Trace {
		fmt.Fprintf(w, "step %d:\n", cfg.Step())
		printConfiguration(w, cfg)
	}
	if len(result.Trace) == 0 {
		fmt.Fprintln(w, "Final configuration:")
		printConfiguration(w, result.Final)
	}
}

func printConfiguration(w io.Writer, cfg psystem.Configuration) {
	for _, id := range cfg.ActiveIDs() {
		m := cfg.Multiset(id)
		if m.IsEmpty() {
			fmt.Fprintf(w, "  [%d] (empty)\n", id)
			continue
		}
		fmt.Fprintf(w, "  [%d] %s\n", id, m)
	}
}
