package vm

import (
	"context"
	"testing"
)

// ---------------------------------------------------------------------------
// Shared fixtures
// ---------------------------------------------------------------------------

const (
	classA ClassID = 0
	classB ClassID = 1
	classC ClassID = 2
)

func testVocab() *Vocabulary {
	return &Vocabulary{
		Version: "test-1",
		Selectors: []string{
			"-info-", "x", "y", "z", "view", "loop", "cel", "signal",
			"play", "init", "doit", "dispose", "new", "type", "message",
			"modifiers", "name", "foo", "bar", "both", "value", "count",
			"sum", "first", "second",
		},
		Kernels: []string{
			"Clone", "DisposeClone", "IsObject", "RespondsTo",
			"NewList", "DisposeList", "NewNode", "AddToEnd", "AddToFront",
			"FirstNode", "LastNode", "NextNode", "PrevNode", "NodeValue",
			"EmptyList", "Memory", "GetEvent", "Wait", "ScriptID", "Quit",
			"GetTime", "DoSound",
		},
		Classes: []uint16{1, 1, 1},
	}
}

func newTestVM(t *testing.T, opts ...Option) *VM {
	t.Helper()
	vm, err := NewVM(testVocab(), opts...)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	return vm
}

func sel(t *testing.T, vm *VM, name string) Selector {
	t.Helper()
	id, err := vm.Selectors.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return id
}

func kernelNum(t *testing.T, vm *VM, name string) int {
	t.Helper()
	n, ok := vm.KernelNumber(name)
	if !ok {
		t.Fatalf("no kernel %s", name)
	}
	return n
}

func mustLoad(t *testing.T, vm *VM, b *ScriptBuilder) SegmentID {
	t.Helper()
	m, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	id, err := vm.LoadScript(m)
	if err != nil {
		t.Fatalf("LoadScript(%d): %v", m.Number, err)
	}
	return id
}

// loadGlobals loads script 0 with n global variables.
func loadGlobals(t *testing.T, vm *VM, n int) {
	t.Helper()
	b := NewScriptBuilder(vm.Selectors, 0)
	b.Locals(n)
	mustLoad(t, vm, b)
}

// loadHierarchy loads script 1 with C -> B -> A. A defines foo (returns 1)
// and bar (returns 10); B overrides foo (returns 2); C adds z.
func loadHierarchy(t *testing.T, vm *VM) SegmentID {
	t.Helper()
	b := NewScriptBuilder(vm.Selectors, 1)
	c := b.Code()
	aFoo := b.Here()
	c.Emit(OpLdi, 1)
	c.Emit(OpRet)
	aBar := b.Here()
	c.Emit(OpLdi, 10)
	c.Emit(OpRet)
	bFoo := b.Here()
	c.Emit(OpLdi, 2)
	c.Emit(OpRet)

	b.Class("A", classA, NoClass).Prop("-info-", 0).Prop("x", 0).Prop("y", 0).
		Method("foo", aFoo).Method("bar", aBar)
	b.Class("B", classB, classA).Prop("-info-", 0).Prop("x", 0).Prop("y", 0).
		Method("foo", bFoo)
	b.Class("C", classC, classB).Prop("-info-", 0).Prop("x", 0).Prop("y", 0).Prop("z", 0)
	return mustLoad(t, vm, b)
}

// loadProgram loads a script holding one instance, "obj", with properties
// x and y and a method foo whose code emit writes. It returns the instance.
func loadProgram(t *testing.T, vm *VM, number uint16, emit func(b *ScriptBuilder, self uint16)) Reg {
	t.Helper()
	b := NewScriptBuilder(vm.Selectors, number)
	obj := b.Instance("obj", NoClass).Prop("x", 0).Prop("y", 9)
	entry := b.Here()
	emit(b, obj.Offset())
	obj.Method("foo", entry)
	id := mustLoad(t, vm, b)
	return MakeReg(id, obj.Offset())
}

// runProgram loads a program and sends foo to it.
func runProgram(t *testing.T, vm *VM, emit func(b *ScriptBuilder, self uint16), args ...Reg) (Reg, error) {
	t.Helper()
	obj := loadProgram(t, vm, 10, emit)
	return vm.Send(obj, sel(t, vm, "foo"), args...)
}

// tickUntilIdle ticks until no frames remain or limit ticks have passed.
func tickUntilIdle(t *testing.T, vm *VM, limit int) {
	t.Helper()
	for i := 0; i < limit && vm.Depth() > 0; i++ {
		if err := vm.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
	if vm.Depth() > 0 {
		t.Fatalf("still %d frames after %d ticks", vm.Depth(), limit)
	}
}
