package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chazu/scivm/manifest"
	"github.com/chazu/scivm/savestore"
	"github.com/chazu/scivm/vm"
)

func TestDemoSavesSlot(t *testing.T) {
	m := manifest.Default(t.TempDir())
	if err := handleDemoCommand([]string{"-frames", "8", "-save", "demo"}, m); err != nil {
		t.Fatalf("demo: %v", err)
	}

	store, err := savestore.Open(m.DatabasePath())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	data, _, err := store.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	info, err := vm.InspectSnapshot(data)
	if err != nil {
		t.Fatalf("InspectSnapshot: %v", err)
	}
	if info.VocabVersion != "sci-demo-1" || info.Ticks != 8 {
		t.Errorf("vocab %q ticks %d", info.VocabVersion, info.Ticks)
	}
}

func TestDemoActorsMove(t *testing.T) {
	machine, err := vm.NewVM(demoVocabulary())
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	modules, err := buildDemoScripts(machine)
	if err != nil {
		t.Fatalf("buildDemoScripts: %v", err)
	}
	for _, mod := range modules {
		if _, err := machine.LoadScript(mod); err != nil {
			t.Fatalf("LoadScript(%d): %v", mod.Number, err)
		}
	}
	actor, err := machine.Instantiate(0)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	// doit blocks on its first Wait, then finishes once the clock moves.
	if err := machine.Start(actor, machine.Selectors.Cache().Doit); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 3 && machine.Depth() > 0; i++ {
		if err := machine.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		machine.AdvanceClock(1)
		machine.Resume()
	}
	if machine.Depth() != 0 {
		t.Fatalf("doit still running at depth %d", machine.Depth())
	}
	if x, _ := machine.GetProperty(actor, machine.Selectors.Cache().X); x != vm.Num(1) {
		t.Errorf("x = %v, want 1", x)
	}
}

func TestLoadVocabularyFallsBackToDemo(t *testing.T) {
	m := manifest.Default(t.TempDir())
	v, err := loadVocabulary(nil, m)
	if err != nil {
		t.Fatalf("loadVocabulary: %v", err)
	}
	if v.Version != "sci-demo-1" {
		t.Errorf("version = %q, want the demo vocabulary", v.Version)
	}
	if _, err := loadVocabulary([]string{filepath.Join(t.TempDir(), "missing.toml")}, m); err == nil {
		t.Error("expected error for a named missing vocabulary")
	}
}
