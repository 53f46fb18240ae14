package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/chazu/scivm/manifest"
	"github.com/chazu/scivm/savestore"
	"github.com/chazu/scivm/vm"
)

// demoVocabulary is enough vocabulary for the demo scene.
func demoVocabulary() *vm.Vocabulary {
	return &vm.Vocabulary{
		Version: "sci-demo-1",
		Selectors: []string{
			"-info-", "x", "y", "z", "view", "loop", "cel", "priority",
			"signal", "client", "name", "play", "init", "doit", "dispose",
			"new", "type", "message", "modifiers", "claimed",
		},
		Kernels: []string{
			"Clone", "DisposeClone", "IsObject", "RespondsTo",
			"NewList", "DisposeList", "NewNode", "AddToEnd", "AddToFront",
			"FirstNode", "LastNode", "NextNode", "PrevNode", "NodeValue",
			"EmptyList", "FindKey", "DeleteKey", "Memory", "GetEvent",
			"Wait", "ScriptID", "Quit", "GetTime", "DoSound",
		},
		Classes: []uint16{1},
	}
}

// actorX is the byte offset of x in Actor's properties (-info-, x, y).
const actorX = 2

// buildDemoScripts returns script 0 (two globals) and script 1, which
// declares class Actor. Actor's doit waits one clock tick, then moves one
// step right and returns the new x.
func buildDemoScripts(machine *vm.VM) ([]*vm.ScriptModule, error) {
	wait, ok := machine.KernelNumber("Wait")
	if !ok {
		return nil, fmt.Errorf("vocabulary has no Wait kernel")
	}

	globals := vm.NewScriptBuilder(machine.Selectors, 0).Locals(2)

	b := vm.NewScriptBuilder(machine.Selectors, 1)
	c := b.Code()
	doit := b.Here()
	c.Emit(vm.OpPushi, 1)
	c.Emit(vm.OpPushi, 1)
	c.Emit(vm.OpCallk, wait, 4)
	c.Emit(vm.OpIPToA, actorX)
	c.Emit(vm.OpRet)
	b.Class("Actor", 0, vm.NoClass).
		Prop("-info-", 0).Prop("x", 0).Prop("y", 0).
		Method("doit", doit)

	var modules []*vm.ScriptModule
	for _, sb := range []*vm.ScriptBuilder{globals, b} {
		m, err := sb.Build()
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// handleDemoCommand processes the `sci demo` subcommand: it loads the demo
// scene, runs a game loop, and optionally saves the result.
func handleDemoCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	frames := fs.Int("frames", 10, "Number of game-loop frames to run")
	save := fs.String("save", "", "Save the final state to this slot")
	fs.Parse(args)

	byNumber := make(map[uint16]*vm.ScriptModule)
	loader := vm.ScriptLoaderFunc(func(n uint16) (*vm.ScriptModule, error) {
		if mod, ok := byNumber[n]; ok {
			return mod, nil
		}
		return nil, fmt.Errorf("demo has no script %d", n)
	})
	machine, err := vm.NewVM(demoVocabulary(), vm.WithConfig(m.VMConfig()), vm.WithScriptLoader(loader))
	if err != nil {
		return err
	}
	modules, err := buildDemoScripts(machine)
	if err != nil {
		return err
	}
	for _, mod := range modules {
		byNumber[mod.Number] = mod
	}
	if _, err := machine.LoadScriptNumber(0); err != nil {
		return err
	}

	// The cast: two actors in a list held by global 0.
	cast, err := machine.NewList()
	if err != nil {
		return err
	}
	var actors []vm.Reg
	for i := 0; i < 2; i++ {
		actor, err := machine.Instantiate(0)
		if err != nil {
			return err
		}
		if err := machine.SetProperty(actor, machine.Selectors.Cache().Y, vm.Num(10*(i+1))); err != nil {
			return err
		}
		node, err := machine.NewNode(actor, actor)
		if err != nil {
			return err
		}
		if err := machine.AddToEnd(cast, node); err != nil {
			return err
		}
		actors = append(actors, actor)
	}
	if err := machine.SetGlobal(0, cast); err != nil {
		return err
	}

	doit := machine.Selectors.Cache().Doit
	x := machine.Selectors.Cache().X
	ctx := context.Background()
	next := 0
	for frame := 0; frame < *frames; frame++ {
		if machine.Depth() == 0 {
			if err := machine.Start(actors[next], doit); err != nil {
				return err
			}
			next = (next + 1) % len(actors)
		}
		if err := machine.Tick(ctx); err != nil {
			return err
		}
		machine.AdvanceClock(1)
		machine.Resume()

		fmt.Printf("frame %2d  %-11s", frame, machine.State())
		for _, a := range actors {
			v, _ := machine.GetProperty(a, x)
			fmt.Printf("  %v", v)
		}
		fmt.Println()
	}

	stats := machine.Collect()
	fmt.Printf("collector: %d live, %d freed\n", stats.Marked, stats.Entries+stats.Segments)

	if *save == "" {
		return nil
	}
	store, err := savestore.Open(m.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SaveVM(*save, machine); err != nil {
		return err
	}
	fmt.Printf("saved to slot %s in %s\n", *save, store.Path())
	return nil
}
