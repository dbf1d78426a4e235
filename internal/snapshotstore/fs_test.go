package snapshotstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/daniacca/membranedb/internal/psystem"
)

func sampleSnapshot(t *testing.T) (*psystem.System, psystem.Snapshot) {
	t.Helper()
	sys, err := psystem.NewSystemBuilder("store").
		WithMembrane(1, 1, psystem.NoMembrane).
		WithMembrane(2, 2, 1).
		WithInitial(2, psystem.MultisetOf("a", "a", "b")).
		WithRules(psystem.NewRule(2, psystem.MultisetOf("a"), psystem.MultisetOf("c")).To(psystem.ToParent())).
		Build()
	if err != nil {
		t.Fatalf("Failed to build system: %v", err)
	}
	cfg := psystem.NewSimulator(sys).Step(psystem.NewConfiguration(sys))
	return sys, psystem.SnapshotFromConfiguration("env-1", sys, cfg)
}

func TestFileStore_SaveLoad(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatCBOR} {
		t.Run(string(format), func(t *testing.T) {
			sys, snap := sampleSnapshot(t)
			store, err := NewFileStore(filepath.Join(t.TempDir(), "snaps"), format)
			if err != nil {
				t.Fatalf("Failed to create store: %v", err)
			}

			if err := store.Save(context.Background(), "env-1", snap); err != nil {
				t.Fatalf("Failed to save: %v", err)
			}
			if _, err := os.Stat(filepath.Join(store.Dir(), "env-1"+format.extension())); err != nil {
				t.Errorf("Expected snapshot file on disk: %v", err)
			}

			loaded, err := store.Load(context.Background(), "env-1")
			if err != nil {
				t.Fatalf("Failed to load: %v", err)
			}
			cfg, err := psystem.RestoreConfiguration(loaded, sys)
			if err != nil {
				t.Fatalf("Failed to restore: %v", err)
			}
			if cfg.Step() != 1 || cfg.Multiset(1).Count("c") != 2 {
				t.Errorf("Expected step 1 with c{2} in the skin, got %s", cfg)
			}
		})
	}
}

func TestFileStore_NotFoundAndDelete(t *testing.T) {
	_, snap := sampleSnapshot(t)
	store, err := NewFileStore(t.TempDir(), FormatJSON)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	store.Save(context.Background(), "env-1", snap)
	if err := store.Delete(context.Background(), "env-1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := store.Load(context.Background(), "env-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(context.Background(), "env-1"); err != nil {
		t.Errorf("Expected deleting a missing snapshot to succeed, got %v", err)
	}
}

func TestFileStore_EscapesIDs(t *testing.T) {
	_, snap := sampleSnapshot(t)
	dir := t.TempDir()
	store, _ := NewFileStore(dir, FormatJSON)

	if err := store.Save(context.Background(), "../escape", snap); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "..%2Fescape.json" {
		t.Errorf("Expected a single escaped file inside the store directory, got %v", entries)
	}
	if err := store.Save(context.Background(), "", snap); err == nil {
		t.Error("Expected error for empty id")
	}
}

func TestEnvironment_WithFileStore(t *testing.T) {
	sys, _ := sampleSnapshot(t)
	store, _ := NewFileStore(t.TempDir(), FormatCBOR)

	env := psystem.NewEnvironment(sys)
	env.SetEnvironmentID("wired")
	env.SetSnapshotStore(store, 1)
	env.Step()

	env.Reset()
	if _, err := env.LoadSnapshot(context.Background()); err != nil {
		t.Fatalf("Failed to load periodic snapshot: %v", err)
	}
	if env.Configuration().Step() != 1 {
		t.Errorf("Expected restored step 1, got %d", env.Configuration().Step())
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "cbor": FormatCBOR} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q): expected %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}
